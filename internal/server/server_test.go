package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type hookMount struct{}

func (hookMount) Mount(r chi.Router) {
	r.Post("/webhook/test", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) })
}

func TestRouter_Health(t *testing.T) {
	s := New(Config{Logger: testLogger(), Health: func() map[string]any { return map[string]any{"users": 3} }})

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, httptest.NewRequest("GET", "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["users"])
}

func TestRouter_OptionalRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("metrics")) })
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ws")) })

	h := New(Config{Logger: testLogger(), Metrics: metrics, WebSocket: ws, WSPath: "/socket", Mounts: []Mounter{hookMount{}}}).Router()

	cases := []struct {
		method, path string
		code         int
	}{
		{"GET", "/metrics", http.StatusOK},
		{"GET", "/socket", http.StatusOK},
		{"POST", "/webhook/test", http.StatusAccepted},
		{"GET", "/ws", http.StatusNotFound},
	}
	for _, c := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(c.method, c.path, nil))
		assert.Equal(t, c.code, rr.Code, "%s %s", c.method, c.path)
	}

	bare := New(Config{Logger: testLogger()}).Router()
	rr := httptest.NewRecorder()
	bare.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := New(Config{Host: "127.0.0.1", Port: 0, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
