package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/standforge/types"
)

// capturedRequest 记录 fake 上游收到的请求
type capturedRequest struct {
	Path   string
	Header http.Header
	Body   map[string]any
}

type fakeUpstream struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	body     string
}

func (f *fakeUpstream) handler(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(data, &body)

	f.mu.Lock()
	f.requests = append(f.requests, capturedRequest{Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
	status, respBody := f.status, f.body
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, respBody)
}

func (f *fakeUpstream) last(t *testing.T) capturedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

type recordedCall struct {
	dialect, kind, outcome string
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *fakeRecorder) RecordUpstreamRequest(dialect, kind, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{dialect, kind, outcome})
}

func newTestClient(t *testing.T, fake *fakeUpstream, dialect Dialect, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)

	ep := Endpoint{Dialect: dialect, BaseURL: srv.URL + "/", APIKey: "test-key", Model: "model-x"}
	return New(Config{Text: ep, Image: ep, ProxyModel: "gemini-3-flash-preview"}, zap.NewNop(), opts...)
}

// =============================================================================
// 方言解析
// =============================================================================

func TestParseDialect(t *testing.T) {
	tests := []struct {
		setting, model string
		want           Dialect
		wantErr        bool
	}{
		{"auto", "gemini-1.5-flash", DialectNativeJSON, false},
		{"", "Gemini-2.0-Flash-Exp", DialectNativeJSON, false},
		{"auto", "dall-e-3", DialectOpenAICompatible, false},
		{"native", "dall-e-3", DialectNativeJSON, false},
		{"openai", "gemini-pro", DialectOpenAICompatible, false},
		{"soap", "x", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDialect(tt.setting, tt.model)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s/%s", tt.setting, tt.model)
	}
	assert.Equal(t, "native", DialectNativeJSON.String())
	assert.Equal(t, "openai", DialectOpenAICompatible.String())
}

// =============================================================================
// 原生方言
// =============================================================================

func TestNativeText_RequestShape(t *testing.T) {
	fake := &fakeUpstream{body: `{"candidates":[{"content":{"parts":[{"text":"{\"name\":"},{"text":"\"Echoes\"}"}]}}]}`}
	rec := &fakeRecorder{}
	client := newTestClient(t, fake, DialectNativeJSON, WithRecorder(rec))

	text, err := client.CallText(context.Background(), TextPrompt{
		System:     "sys",
		User:       "user",
		JSONMode:   true,
		Attachment: &types.ReferenceImage{MimeType: "image/png", Data: []byte("abc")},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Echoes"}`, text)

	req := fake.last(t)
	assert.Equal(t, "/v1beta/models/model-x:generateContent", req.Path)
	assert.Equal(t, "test-key", req.Header.Get("x-goog-api-key"))
	assert.Empty(t, req.Header.Get("Authorization"))

	contents := req.Body["contents"].([]any)
	parts := contents[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "sys\nuser", parts[0].(map[string]any)["text"])
	inline := parts[1].(map[string]any)["inline_data"].(map[string]any)
	assert.Equal(t, "image/png", inline["mime_type"])
	assert.Equal(t, "YWJj", inline["data"])
	assert.Equal(t, "application/json", req.Body["generationConfig"].(map[string]any)["responseMimeType"])

	assert.Equal(t, []recordedCall{{"native", "text", "success"}}, rec.calls)
}

func TestNativeText_ModelOverrideAndOpenAIFallback(t *testing.T) {
	fake := &fakeUpstream{body: `{"choices":[{"message":{"content":"{\"a\":1}"}}]}`}
	client := newTestClient(t, fake, DialectNativeJSON)

	text, err := client.CallText(context.Background(), TextPrompt{User: "u", Model: "gemini-pro"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, text)
	assert.Equal(t, "/v1beta/models/gemini-pro:generateContent", fake.last(t).Path)
}

func TestNativeImage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    types.ImageArtifact
		wantErr types.ErrorCode
	}{
		{
			name: "snake case inline",
			body: `{"candidates":[{"content":{"parts":[{"text":"here"},{"inline_data":{"mime_type":"image/jpeg","data":"QUJD"}}]}}]}`,
			want: types.InlineImage("image/jpeg", "QUJD"),
		},
		{
			name: "camel case inline",
			body: `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/webp","data":"WFla"}}]}}]}`,
			want: types.InlineImage("image/webp", "WFla"),
		},
		{
			name: "url in markdown text",
			body: `{"candidates":[{"content":{"parts":[{"text":"Here is the image: ![stand](https://cdn.example.com/a/b.png)"}]}}]}`,
			want: types.RemoteImage("https://cdn.example.com/a/b.png"),
		},
		{
			name: "dalle blob url",
			body: `{"candidates":[{"content":{"parts":[{"text":"https://oaidalleapiprodscus.blob.core.windows.net/x?sig=1 done"}]}}]}`,
			want: types.RemoteImage("https://oaidalleapiprodscus.blob.core.windows.net/x?sig=1"),
		},
		{
			name:    "text only",
			body:    `{"candidates":[{"content":{"parts":[{"text":"I cannot draw that"}]}}]}`,
			wantErr: types.ErrMalformedResponse,
		},
		{
			name:    "no candidates",
			body:    `{"candidates":[]}`,
			wantErr: types.ErrMalformedResponse,
		},
		{
			name:    "blocked",
			body:    `{"promptFeedback":{"blockReason":"SAFETY"}}`,
			wantErr: types.ErrMalformedResponse,
		},
		{
			name:    "not json",
			body:    `<html>`,
			wantErr: types.ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeUpstream{body: tt.body}
			client := newTestClient(t, fake, DialectNativeJSON)

			img, err := client.CallImage(context.Background(), "draw")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, types.GetErrorCode(err))
				e, _ := types.AsError(err)
				assert.Equal(t, tt.body, e.Raw)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, img)

			req := fake.last(t)
			cfg := req.Body["generationConfig"].(map[string]any)
			assert.Equal(t, []any{"TEXT", "IMAGE"}, cfg["responseModalities"])
			assert.Len(t, req.Body["safetySettings"], 4)
		})
	}
}

// =============================================================================
// OpenAI 兼容方言
// =============================================================================

func TestOpenAIText_RequestShape(t *testing.T) {
	fake := &fakeUpstream{body: `{"choices":[{"message":{"content":"{\"name\":\"Crazy Diamond\"}"}}]}`}
	client := newTestClient(t, fake, DialectOpenAICompatible)

	text, err := client.CallText(context.Background(), TextPrompt{
		System:     "sys",
		User:       "user",
		JSONMode:   true,
		Attachment: &types.ReferenceImage{MimeType: "image/png", Data: []byte("abc")},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Crazy Diamond"}`, text)

	req := fake.last(t)
	assert.Equal(t, "/v1/chat/completions", req.Path)
	assert.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))
	assert.Equal(t, "model-x", req.Body["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, req.Body["response_format"])

	messages := req.Body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, map[string]any{"role": "system", "content": "sys"}, messages[0])

	blocks := messages[1].(map[string]any)["content"].([]any)
	require.Len(t, blocks, 2)
	assert.Equal(t, "text", blocks[0].(map[string]any)["type"])
	imageURL := blocks[1].(map[string]any)["image_url"].(map[string]any)
	assert.Equal(t, "data:image/png;base64,YWJj", imageURL["url"])
}

func TestOpenAIText_Malformed(t *testing.T) {
	fake := &fakeUpstream{body: `{"choices":[]}`}
	client := newTestClient(t, fake, DialectOpenAICompatible)

	_, err := client.CallText(context.Background(), TextPrompt{User: "u"})
	assert.True(t, types.IsErrorCode(err, types.ErrMalformedResponse))
}

func TestOpenAIImage(t *testing.T) {
	t.Run("url", func(t *testing.T) {
		fake := &fakeUpstream{body: `{"data":[{"url":"https://img.example.com/x.png"}]}`}
		client := newTestClient(t, fake, DialectOpenAICompatible)

		img, err := client.CallImage(context.Background(), "draw")
		require.NoError(t, err)
		assert.Equal(t, types.RemoteImage("https://img.example.com/x.png"), img)

		req := fake.last(t)
		assert.Equal(t, "/v1/images/generations", req.Path)
		assert.Equal(t, "draw", req.Body["prompt"])
		assert.Equal(t, float64(1), req.Body["n"])
		assert.Equal(t, "1024x1024", req.Body["size"])
	})

	t.Run("b64 fallback", func(t *testing.T) {
		fake := &fakeUpstream{body: `{"data":[{"b64_json":"QUJD"}]}`}
		client := newTestClient(t, fake, DialectOpenAICompatible)

		img, err := client.CallImage(context.Background(), "draw")
		require.NoError(t, err)
		assert.Equal(t, types.InlineImage("image/png", "QUJD"), img)
	})

	t.Run("empty data", func(t *testing.T) {
		fake := &fakeUpstream{body: `{"data":[]}`}
		client := newTestClient(t, fake, DialectOpenAICompatible)

		_, err := client.CallImage(context.Background(), "draw")
		assert.True(t, types.IsErrorCode(err, types.ErrMalformedResponse))
	})
}

// =============================================================================
// 错误映射
// =============================================================================

func TestCallText_HTTPErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		code      types.ErrorCode
		retryable bool
	}{
		{"overloaded 503", 503, `{"error":{"message":"The model is overloaded","status":"UNAVAILABLE"}}`, types.ErrServiceUnavailable, true},
		{"529", 529, `overloaded`, types.ErrModelOverloaded, true},
		{"429", 429, `{"error":{"message":"slow down"}}`, types.ErrRateLimited, true},
		{"502", 502, `bad gateway`, types.ErrUpstreamError, true},
		{"500", 500, `boom`, types.ErrUpstreamError, false},
		{"400", 400, `{"error":{"message":"invalid"}}`, types.ErrUpstreamError, false},
		{"401", 401, `{"error":{"message":"bad key"}}`, types.ErrUnauthorized, false},
		{"quota", 403, `{"error":{"message":"user quota exhausted"}}`, types.ErrQuotaExhausted, false},
		{"remain quota on 503", 503, `{"error":{"message":"RemainQuota: 0"}}`, types.ErrQuotaExhausted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeUpstream{status: tt.status, body: tt.body}
			rec := &fakeRecorder{}
			client := newTestClient(t, fake, DialectNativeJSON, WithRecorder(rec))

			_, err := client.CallText(context.Background(), TextPrompt{User: "u"})
			require.Error(t, err)

			e, ok := types.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.retryable, e.Retryable)
			assert.Equal(t, tt.status, e.HTTPStatus)
			assert.Equal(t, tt.body, e.Raw)
			assert.Equal(t, "native", e.Provider)

			require.Len(t, rec.calls, 1)
			assert.NotEqual(t, "success", rec.calls[0].outcome)
		})
	}
}

func TestCallText_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ep := Endpoint{Dialect: DialectNativeJSON, BaseURL: srv.URL, APIKey: "k", Model: "gemini"}
	client := New(Config{Text: ep, Image: ep}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.CallText(ctx, TextPrompt{User: "u"})
	assert.True(t, types.IsErrorCode(err, types.ErrTimeout), "got %v", err)
}

func TestCallText_NoDialect(t *testing.T) {
	client := New(Config{}, zap.NewNop())
	_, err := client.CallText(context.Background(), TextPrompt{User: "u"})
	assert.True(t, types.IsErrorCode(err, types.ErrConfiguration))
}

// =============================================================================
// 透传代理
// =============================================================================

func TestProxy(t *testing.T) {
	t.Run("default model passthrough", func(t *testing.T) {
		fake := &fakeUpstream{body: `{"candidates":[{"content":{"parts":[{"text":"hi"}]}}]}`}
		client := newTestClient(t, fake, DialectOpenAICompatible)

		status, body, err := client.Proxy(context.Background(), "", "hello")
		require.NoError(t, err)
		assert.Equal(t, 200, status)
		assert.JSONEq(t, fake.body, string(body))

		req := fake.last(t)
		assert.Equal(t, "/v1beta/models/gemini-3-flash-preview:generateContent", req.Path)
		assert.Equal(t, "test-key", req.Header.Get("x-goog-api-key"))
	})

	t.Run("upstream error status is passed through", func(t *testing.T) {
		fake := &fakeUpstream{status: 429, body: `{"error":{"message":"slow"}}`}
		client := newTestClient(t, fake, DialectNativeJSON)

		status, body, err := client.Proxy(context.Background(), "gemini-pro", "hello")
		require.NoError(t, err)
		assert.Equal(t, 429, status)
		assert.JSONEq(t, fake.body, string(body))
		assert.Equal(t, "/v1beta/models/gemini-pro:generateContent", fake.last(t).Path)
	})
}

func TestReadErrorMessage(t *testing.T) {
	assert.Equal(t, "bad (status: INVALID_ARGUMENT)", ReadErrorMessage([]byte(`{"error":{"message":"bad","status":"INVALID_ARGUMENT"}}`)))
	assert.Equal(t, "bad (type: invalid_request_error)", ReadErrorMessage([]byte(`{"error":{"message":"bad","type":"invalid_request_error"}}`)))
	assert.Equal(t, "", ReadErrorMessage([]byte(`plain text`)))
}
