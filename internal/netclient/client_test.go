package netclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type flakyTransport struct {
	failures int32
	err      error
	calls    atomic.Int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	n := f.calls.Add(1)
	if f.failures < 0 || n <= f.failures {
		return nil, f.err
	}
	return f.next.RoundTrip(req)
}

type stubFallback struct {
	calls atomic.Int32
	req   FallbackRequest
	resp  Response
	err   error
}

func (s *stubFallback) Fetch(_ context.Context, req FallbackRequest) (Response, error) {
	s.calls.Add(1)
	s.req = req
	return s.resp, s.err
}

func resetErr() error {
	return &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}
}

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	t.Helper()
	var hits atomic.Int32
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		ua.Store(r.UserAgent())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits, &ua
}

func TestClientGetReturnsBody(t *testing.T) {
	t.Parallel()

	srv, hits, ua := newTestServer(t, http.StatusOK, "<table></table>")
	client := New(Config{UserAgent: "regdocs-test"}, nil)

	resp, err := client.Get(context.Background(), srv.URL+"/list?page=1", Options{})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<table></table>", string(resp.Body))
	require.False(t, resp.ViaFallback)
	require.Equal(t, int32(1), hits.Load())
	require.Equal(t, "regdocs-test", ua.Load())

	body, err := client.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "<table></table>", string(body))
}

func TestClientStatusErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	srv, hits, _ := newTestServer(t, http.StatusNotFound, "missing")
	fallback := &stubFallback{}
	client := New(Config{BackoffBase: time.Millisecond, Fallback: fallback}, nil)

	_, err := client.Get(context.Background(), srv.URL, Options{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.Equal(t, int32(1), hits.Load())
	require.Zero(t, fallback.calls.Load())
}

func TestClientRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, http.StatusOK, "ok")
	transport := &flakyTransport{failures: 2, err: resetErr(), next: http.DefaultTransport}
	fallback := &stubFallback{}
	client := New(Config{
		Retries:     2,
		BackoffBase: time.Millisecond,
		Transport:   transport,
		Fallback:    fallback,
	}, nil)

	resp, err := client.Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	require.Equal(t, "ok", string(resp.Body))
	require.Equal(t, int32(3), transport.calls.Load())
	require.Zero(t, fallback.calls.Load())
}

func TestClientFallsBackAfterRetriesExhausted(t *testing.T) {
	t.Parallel()

	transport := &flakyTransport{failures: -1, err: resetErr(), next: http.DefaultTransport}
	fallback := &stubFallback{resp: Response{StatusCode: http.StatusOK, Body: []byte("from curl")}}
	client := New(Config{
		UserAgent:   "regdocs-test",
		Retries:     2,
		BackoffBase: time.Millisecond,
		Transport:   transport,
		Fallback:    fallback,
	}, nil)

	resp, err := client.Get(context.Background(), "http://registry.invalid/list", Options{
		Headers: http.Header{"Referer": {"http://registry.invalid/"}},
	})
	require.NoError(t, err)
	require.True(t, resp.ViaFallback)
	require.Equal(t, "from curl", string(resp.Body))
	require.Equal(t, int32(3), transport.calls.Load())
	require.Equal(t, int32(1), fallback.calls.Load())
	require.Equal(t, "regdocs-test", fallback.req.UserAgent)
	require.Equal(t, DefaultTimeout, fallback.req.Timeout)
	require.Equal(t, "http://registry.invalid/", fallback.req.Headers.Get("Referer"))
}

func TestClientRetriesOverride(t *testing.T) {
	t.Parallel()

	transport := &flakyTransport{failures: -1, err: resetErr(), next: http.DefaultTransport}
	client := New(Config{Retries: 5, BackoffBase: time.Millisecond, Transport: transport}, nil)

	_, err := client.Get(context.Background(), "http://registry.invalid/", Options{Retries: 0, RetriesProvided: true})
	require.Error(t, err)
	require.True(t, errors.Is(err, syscall.ECONNRESET))
	require.Equal(t, int32(1), transport.calls.Load())
}

func TestClientNonTransientErrorSkipsRetries(t *testing.T) {
	t.Parallel()

	transport := &flakyTransport{failures: -1, err: errors.New("tls: bad record MAC"), next: http.DefaultTransport}
	fallback := &stubFallback{resp: Response{StatusCode: http.StatusOK, Body: []byte("pdf")}}
	client := New(Config{Retries: 2, BackoffBase: time.Millisecond, Transport: transport, Fallback: fallback}, nil)

	resp, err := client.Get(context.Background(), "https://files.invalid/a.pdf", Options{Binary: true})
	require.NoError(t, err)
	require.Equal(t, "pdf", string(resp.Body))
	require.Equal(t, int32(1), transport.calls.Load())
	require.Contains(t, fallback.req.Headers.Get("Accept"), "application/pdf")
}

func TestClientFallbackFailurePropagatesBothCauses(t *testing.T) {
	t.Parallel()

	transport := &flakyTransport{failures: -1, err: resetErr(), next: http.DefaultTransport}
	fallbackErr := errors.New("curl exited 6")
	client := New(Config{
		Retries:     0,
		BackoffBase: time.Millisecond,
		Transport:   transport,
		Fallback:    &stubFallback{err: fallbackErr},
	}, nil)

	_, err := client.Get(context.Background(), "http://registry.invalid/", Options{})
	require.ErrorIs(t, err, fallbackErr)
	require.ErrorIs(t, err, syscall.ECONNRESET)
}

func TestClientCanceledContextStopsRetrying(t *testing.T) {
	t.Parallel()

	transport := &flakyTransport{failures: -1, err: resetErr(), next: http.DefaultTransport}
	fallback := &stubFallback{}
	client := New(Config{Retries: 3, BackoffBase: time.Hour, Transport: transport, Fallback: fallback}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Get(ctx, "http://registry.invalid/", Options{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, fallback.calls.Load())
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"reset", resetErr(), true},
		{"host unreachable", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.EHOSTUNREACH)}, true},
		{"network unreachable", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ENETUNREACH)}, true},
		{"errno timeout", syscall.ETIMEDOUT, true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"temporary dns", &net.DNSError{Err: "try again", Name: "registry", IsTemporary: true}, true},
		{"missing host", &net.DNSError{Err: "no such host", Name: "registry", IsNotFound: true}, false},
		{"http status", &StatusError{StatusCode: http.StatusServiceUnavailable}, false},
		{"tls", errors.New("tls: handshake failure"), false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, IsTransient(tc.err), tc.name)
	}
}

type countingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls.Add(1)
	return l.err
}

func TestClientWaitsOnLimiterBeforeEachAttempt(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t, http.StatusOK, "ok")
	transport := &flakyTransport{failures: 1, err: resetErr(), next: http.DefaultTransport}
	limiter := &countingLimiter{}
	client := New(Config{Retries: 2, BackoffBase: time.Millisecond, Transport: transport, Limiter: limiter}, nil)

	_, err := client.Get(context.Background(), srv.URL, Options{})
	require.NoError(t, err)
	require.Equal(t, int32(2), limiter.calls.Load())
}

func TestClientLimiterErrorAbortsRequest(t *testing.T) {
	t.Parallel()

	srv, hits, _ := newTestServer(t, http.StatusOK, "ok")
	fallback := &stubFallback{}
	limiter := &countingLimiter{err: context.DeadlineExceeded}
	client := New(Config{Limiter: limiter, Fallback: fallback}, nil)

	_, err := client.Get(context.Background(), srv.URL, Options{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, hits.Load())
	require.Zero(t, fallback.calls.Load())
}
