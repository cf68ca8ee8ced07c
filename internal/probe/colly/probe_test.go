package collyprobe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeReachable(t *testing.T) {
	t.Parallel()

	methods := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods <- r.Method
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(Config{UserAgent: "shotcast-test", Timeout: time.Second})
	require.NoError(t, p.Probe(context.Background(), srv.URL+"/ok"))
	assert.Equal(t, http.MethodHead, <-methods)

	// Error statuses still prove the host is up.
	require.NoError(t, p.Probe(context.Background(), srv.URL+"/broken"))
	// Repeated probes of one URL are allowed.
	require.NoError(t, p.Probe(context.Background(), srv.URL+"/ok"))
}

func TestProbeUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	err := New(Config{Timeout: time.Second}).Probe(context.Background(), target)
	require.Error(t, err)
}

func TestProbeCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := New(Config{Timeout: 5 * time.Second}).Probe(ctx, srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
