package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestServeDrainsOnCancel(t *testing.T) {
	ln := listen(t)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var drained bool
	var err error
	go func() {
		drained, err = serve(ctx, srv, ln, time.Second, discard())
		close(done)
	}()

	resp, getErr := http.Get("http://" + ln.Addr().String())
	require.NoError(t, getErr)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	<-done
	assert.NoError(t, err)
	assert.True(t, drained)
}

func TestServeReportsStuckRequests(t *testing.T) {
	ln := listen(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
	})}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var drained bool
	var err error
	go func() {
		drained, err = serve(ctx, srv, ln, 50*time.Millisecond, discard())
		close(done)
	}()

	go func() {
		resp, err := http.Get("http://" + ln.Addr().String())
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-entered

	cancel()
	<-done
	assert.NoError(t, err)
	assert.False(t, drained, "an inference still running must keep the model open")
}

func TestServeReturnsListenerError(t *testing.T) {
	ln := listen(t)
	require.NoError(t, ln.Close())

	drained, err := serve(context.Background(), &http.Server{}, ln, time.Second, discard())
	assert.Error(t, err)
	assert.True(t, drained)
}
