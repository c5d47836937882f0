// ABOUTME: Markdown rendering for outgoing Matrix messages
// ABOUTME: Builds m.text content with an HTML formatted_body produced by goldmark

package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"maunium.net/go/mautrix/event"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// RenderMarkdown converts markdown to HTML. Raw HTML in the input is escaped
// by goldmark's default renderer.
func RenderMarkdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// textContent builds an m.text body. When rendering fails, or renders to a
// single plain paragraph, the formatted body is omitted.
func textContent(text string) *event.MessageEventContent {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	rendered, err := RenderMarkdown(text)
	if err != nil || rendered == "" || isPlainParagraph(rendered, text) {
		return content
	}
	content.Format = event.FormatHTML
	content.FormattedBody = rendered
	return content
}

func isPlainParagraph(rendered, text string) bool {
	inner, ok := strings.CutPrefix(rendered, "<p>")
	if !ok {
		return false
	}
	inner, ok = strings.CutSuffix(inner, "</p>")
	return ok && inner == strings.TrimSpace(text)
}
