// ABOUTME: Tests for the streaming completion client
// ABOUTME: Serves canned SSE bodies from httptest and checks the yielded fragments

package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YubinMoon/servant-bot/internal/fragment"
)

func sseServer(t *testing.T, lines []string, inspect func(*http.Request, requestBody)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body requestBody
		require.NoError(t, json.Unmarshal(raw, &body))
		if inspect != nil {
			inspect(r, body)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, c *Client, req Request) ([]fragment.Fragment, error) {
	t.Helper()
	var out []fragment.Fragment
	for f, err := range c.Stream(context.Background(), req) {
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
	return out, nil
}

func TestClient_Stream_Content(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`data: {"id":"c1","model":"gpt-4o","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		`data: [DONE]`,
	}, func(r *http.Request, body requestBody) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.True(t, body.Stream)
		assert.Equal(t, "gpt-4o", body.Model)
		require.NotNil(t, body.StreamOptions)
		assert.True(t, body.StreamOptions.IncludeUsage)
		assert.Empty(t, body.ToolChoice)
	})

	c := New(Config{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "gpt-4o", HTTPClient: srv.Client()}, nil)
	frags, err := collect(t, c, Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	require.Len(t, frags, 4)

	var agg fragment.Aggregate
	for _, f := range frags {
		require.NoError(t, agg.Add(f))
	}
	assert.Equal(t, "Hello", agg.Text())
	assert.Equal(t, fragment.FinishStop, agg.FinishReason())
	require.NotNil(t, agg.Response().Usage)
	assert.Equal(t, 7, agg.Response().Usage.TotalTokens)
}

func TestClient_Stream_ToolCalls(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"id":"c2","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"current_time","arguments":""}}]}}]}`,
		`data: {"id":"c2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"tz\":"}}]}}]}`,
		`data: {"id":"c2","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"UTC\"}"}}]}}]}`,
		`data: {"id":"c2","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	}, func(r *http.Request, body requestBody) {
		assert.Equal(t, "auto", body.ToolChoice)
		require.Len(t, body.Tools, 1)
		assert.Equal(t, "current_time", body.Tools[0].Function.Name)
	})

	c := New(Config{BaseURL: srv.URL, Model: "m", HTTPClient: srv.Client()}, nil)
	frags, err := collect(t, c, Request{Tools: []Tool{{Type: "function", Function: FunctionDef{Name: "current_time"}}}})
	require.NoError(t, err)

	var agg fragment.Aggregate
	for _, f := range frags {
		require.NoError(t, agg.Add(f))
	}
	calls := agg.Response().Delta.ToolCalls
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, `{"tz":"UTC"}`, calls[0].Arguments)
	assert.Equal(t, fragment.FinishToolCalls, agg.FinishReason())
}

func TestClient_Stream_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"rate limited","type":"requests"}}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client()}, nil)
	_, err := collect(t, c, Request{})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate limited", apiErr.Message)
}

func TestClient_Stream_MalformedChunk(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"id":"c3","choices":[{"index":0,"delta":{"content":"a"}}]}`,
		`data: {not json`,
	}, nil)

	c := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client()}, nil)
	frags, err := collect(t, c, Request{})
	require.Error(t, err)
	assert.Len(t, frags, 1)
}

func TestClient_Stream_IgnoresNonDataLines(t *testing.T) {
	srv := sseServer(t, []string{
		`: keep-alive`,
		`event: message`,
		`data: {"id":"c4","choices":[]}`,
		`data: {"id":"c4","choices":[{"index":0,"delta":{"content":"x"},"finish_reason":"length"}]}`,
	}, nil)

	c := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client()}, nil)
	frags, err := collect(t, c, Request{})
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, fragment.FinishLength, frags[0].FinishReason)
}

func TestClient_Stream_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, HTTPClient: srv.Client(), Timeout: 50 * time.Millisecond}, nil)
	_, err := collect(t, c, Request{})
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got %v", err)
}

func TestParseChunk_UnknownFinishReason(t *testing.T) {
	_, err := parseChunk([]byte(`{"id":"x","choices":[{"index":0,"delta":{},"finish_reason":"weird"}]}`))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "weird"))
}
