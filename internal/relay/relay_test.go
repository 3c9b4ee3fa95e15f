package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/standforge/types"
)

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *outcomeRecorder) RecordRelayStream(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *outcomeRecorder) all() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.outcomes...)
}

func newServer(t *testing.T, rl *Relay, task Task) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl.Serve(w, r, task)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, body io.Reader) Result {
	t.Helper()
	var res Result
	require.NoError(t, json.NewDecoder(body).Decode(&res))
	return res
}

func TestServe_HeadersBeforeTaskCompletes(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	rl := New(0, zap.NewNop())

	srv := newServer(t, rl, func(ctx context.Context) (types.ImageArtifact, error) {
		close(started)
		<-release
		return types.RemoteImage("https://cdn.example.com/kq.png"), nil
	})

	resp, err := http.Post(srv.URL, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	// 响应头已到达，任务仍在等待
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("task did not start")
	}

	close(release)
	res := decode(t, resp.Body)
	assert.Equal(t, "https://cdn.example.com/kq.png", res.ImageData)
	assert.Empty(t, res.Error)
}

func TestServe_InlineImage(t *testing.T) {
	rl := New(0, zap.NewNop())
	srv := newServer(t, rl, func(ctx context.Context) (types.ImageArtifact, error) {
		return types.InlineImage("image/jpeg", "AAAA"), nil
	})

	resp, err := http.Post(srv.URL, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "data:image/jpeg;base64,AAAA", decode(t, resp.Body).ImageData)
}

func TestServe_ErrorShapes(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		img     types.ImageArtifact
		want    Result
		outcome string
	}{
		{
			name:    "upstream failure carries raw body",
			err:     types.NewUpstreamError(500, `{"error":"boom"}`),
			want:    Result{Error: "upstream returned status 500", Raw: `{"error":"boom"}`},
			outcome: OutcomeUpstreamError,
		},
		{
			name:    "local failure",
			err:     errors.New("dial tcp: connection refused"),
			want:    Result{Error: "dial tcp: connection refused"},
			outcome: OutcomeLocalError,
		},
		{
			name:    "failed sentinel",
			img:     types.FailedImage(),
			want:    Result{Error: "image generation returned no image"},
			outcome: OutcomeLocalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &outcomeRecorder{}
			rl := New(0, zap.NewNop(), WithRecorder(rec))
			srv := newServer(t, rl, func(ctx context.Context) (types.ImageArtifact, error) {
				return tt.img, tt.err
			})

			resp, err := http.Post(srv.URL, "application/json", nil)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode, "status is committed before the task runs")
			assert.Equal(t, tt.want, decode(t, resp.Body))
			assert.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 10*time.Millisecond)
			assert.Equal(t, []string{tt.outcome}, rec.all())
		})
	}
}

func TestServe_KeepAliveWhitespace(t *testing.T) {
	rl := New(10*time.Millisecond, zap.NewNop())
	srv := newServer(t, rl, func(ctx context.Context) (types.ImageArtifact, error) {
		time.Sleep(80 * time.Millisecond)
		return types.RemoteImage("https://cdn.example.com/x.png"), nil
	})

	resp, err := http.Post(srv.URL, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(body), " "), "keep-alive bytes precede the result")
	var res Result
	require.NoError(t, json.Unmarshal(body, &res))
	assert.Equal(t, "https://cdn.example.com/x.png", res.ImageData)
}

func TestServe_ClientGoneCancelsTask(t *testing.T) {
	cancelled := make(chan struct{})
	rec := &outcomeRecorder{}
	rl := New(0, zap.NewNop(), WithRecorder(rec))

	srv := newServer(t, rl, func(ctx context.Context) (types.ImageArtifact, error) {
		<-ctx.Done()
		close(cancelled)
		return types.ImageArtifact{}, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	// 读到首字节之前断开
	_, _ = bufio.NewReader(resp.Body).Peek(0)
	cancel()
	resp.Body.Close()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not cancelled after client disconnect")
	}
	assert.Eventually(t, func() bool {
		out := rec.all()
		return len(out) == 1 && out[0] == OutcomeClientGone
	}, time.Second, 10*time.Millisecond)
}

func TestRespond_StatusReflectsOutcome(t *testing.T) {
	tests := []struct {
		name   string
		img    types.ImageArtifact
		err    error
		status int
	}{
		{name: "success", img: types.RemoteImage("https://x/y.png"), status: http.StatusOK},
		{name: "upstream", err: types.NewUpstreamError(503, "busy"), status: http.StatusServiceUnavailable},
		{name: "upstream without status", err: types.NewMalformedResponseError("no image", "{}"), status: http.StatusBadGateway},
		{name: "local", err: errors.New("boom"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := New(0, zap.NewNop())
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/generate", nil)

			rl.Respond(w, r, func(context.Context) (types.ImageArtifact, error) { return tt.img, tt.err })

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}
