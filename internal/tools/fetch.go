// ABOUTME: fetch_url tool returning the readable text of a web page
// ABOUTME: Strips markup with golang.org/x/net/html and bounds size and time

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type fetchURLInput struct {
	URL string `json:"url" jsonschema:"description=Absolute http or https URL to fetch"`
}

// FetchConfig bounds the fetch_url tool.
type FetchConfig struct {
	Timeout  time.Duration
	MaxBytes int64
	// MaxChars caps the text handed back to the model.
	MaxChars int
	Client   *http.Client
}

// FetchURL creates the fetch_url tool.
func FetchURL(cfg FetchConfig) *Tool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 2 << 20
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 8000
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}

	return &Tool{
		Name:        "fetch_url",
		Description: "Fetch a web page and return its readable text",
		Parameters:  SchemaFor[fetchURLInput](),
		Handler: func(ctx context.Context, input json.RawMessage) (string, error) {
			var in fetchURLInput
			if err := json.Unmarshal(input, &in); err != nil {
				return "", fmt.Errorf("invalid input: %w", err)
			}
			return fetch(ctx, cfg, in.URL)
		},
	}
}

func fetch(ctx context.Context, cfg FetchConfig, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("not an http(s) url: %q", raw)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "servant-bot/1.0")
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	resp, err := cfg.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetching: status %s", resp.Status)
	}

	body := io.LimitReader(resp.Body, cfg.MaxBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	var text string
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml" || mediaType == "":
		text, err = extractText(body)
	case strings.HasPrefix(mediaType, "text/") || mediaType == "application/json":
		var b []byte
		b, err = io.ReadAll(body)
		text = string(b)
	default:
		return "", fmt.Errorf("unsupported content type %q", mediaType)
	}
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}

	text = strings.TrimSpace(text)
	if r := []rune(text); len(r) > cfg.MaxChars {
		text = string(r[:cfg.MaxChars]) + "\n[truncated]"
	}
	return text, nil
}

// extractText returns the visible text of an HTML document, one block per line.
func extractText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var sb strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return collapseBlankLines(sb.String()), nil
			}
			return "", z.Err()
		case html.StartTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Svg:
				skip++
			case atom.P, atom.Div, atom.Br, atom.Li, atom.Tr, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Section, atom.Article:
				sb.WriteString("\n")
			}
		case html.EndTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Svg:
				if skip > 0 {
					skip--
				}
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if t := strings.Join(strings.Fields(string(z.Text())), " "); t != "" {
				sb.WriteString(t)
				sb.WriteString(" ")
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
