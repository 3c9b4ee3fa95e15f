package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeProxy struct {
	status int
	body   string
	err    error

	model  string
	prompt string
	calls  int
}

func (f *fakeProxy) Proxy(ctx context.Context, model, prompt string) (int, []byte, error) {
	f.calls++
	f.model, f.prompt = model, prompt
	if f.err != nil {
		return 0, nil, f.err
	}
	return f.status, []byte(f.body), nil
}

func serveText(h *TextProxyHandler, method, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, "/generate-text", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleGenerateText(w, r)
	return w
}

func TestTextProxy_Preflight(t *testing.T) {
	proxy := &fakeProxy{}
	h := NewTextProxyHandler(proxy, false, zap.NewNop())

	w := serveText(h, http.MethodOptions, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,OPTIONS,POST", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
	assert.Zero(t, proxy.calls)
}

func TestTextProxy_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		configured bool
		wantStatus int
		wantBody   string
	}{
		{name: "wrong method", method: http.MethodPut, body: `{}`, configured: true, wantStatus: http.StatusMethodNotAllowed, wantBody: `{"error":"Method not allowed"}`},
		{name: "missing key", method: http.MethodPost, body: `{"prompt":"hi"}`, wantStatus: http.StatusInternalServerError, wantBody: `{"error":"Server Error: API Key not configured"}`},
		{name: "missing prompt", method: http.MethodPost, body: `{"model":"gemini-pro"}`, configured: true, wantStatus: http.StatusBadRequest, wantBody: `{"error":"Missing prompt in request body"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proxy := &fakeProxy{}
			h := NewTextProxyHandler(proxy, tt.configured, zap.NewNop())

			w := serveText(h, tt.method, tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
			assert.Zero(t, proxy.calls)
		})
	}
}

func TestTextProxy_PassesThroughUpstreamStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "success", status: http.StatusOK, body: `{"candidates":[{"content":{"parts":[{"text":"hello"}]}}]}`},
		{name: "upstream rejection", status: http.StatusForbidden, body: `{"error":{"code":403,"message":"API key not valid"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proxy := &fakeProxy{status: tt.status, body: tt.body}
			h := NewTextProxyHandler(proxy, true, zap.NewNop())

			w := serveText(h, http.MethodPost, `{"prompt":"hello","model":"gemini-2.0-flash"}`)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, tt.body, w.Body.String())
			assert.Equal(t, "gemini-2.0-flash", proxy.model)
			assert.Equal(t, "hello", proxy.prompt)
		})
	}
}

func TestTextProxy_TransportFailure(t *testing.T) {
	proxy := &fakeProxy{err: errors.New("dial tcp: connection refused")}
	h := NewTextProxyHandler(proxy, true, zap.NewNop())

	w := serveText(h, http.MethodPost, `{"prompt":"hello"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"dial tcp: connection refused"}`, w.Body.String())
	assert.Empty(t, proxy.model, "empty model lets the client pick its default")
}
