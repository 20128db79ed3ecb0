package netclient

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestCommandFallbackNormalizesOutput(t *testing.T) {
	t.Parallel()

	var gotName string
	var gotArgs []string
	runner := func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName = name
		gotArgs = args
		dump := "HTTP/1.1 301 Moved Permanently\r\nLocation: /final\r\n\r\n" +
			"HTTP/1.1 200 OK\r\nContent-Type: application/pdf\r\nX-Trace: abc\r\n\r\n"
		if err := os.WriteFile(argValue(args, "-D"), []byte(dump), 0o600); err != nil {
			return nil, err
		}
		if err := os.WriteFile(argValue(args, "-o"), []byte("%PDF-1.7"), 0o600); err != nil {
			return nil, err
		}
		return []byte("200"), nil
	}

	fb := NewCommandFallback("/usr/bin/curl", nil).WithRunner(runner)
	resp, err := fb.Fetch(context.Background(), FallbackRequest{
		URL:       "https://files.example.org/docs/101QD.pdf",
		Headers:   http.Header{"Accept": {"application/pdf"}},
		Timeout:   20 * time.Second,
		UserAgent: "regdocs-test",
	})
	require.NoError(t, err)

	require.Equal(t, "/usr/bin/curl", gotName)
	require.Contains(t, gotArgs, "-4")
	require.Equal(t, "*", argValue(gotArgs, "--noproxy"))
	require.Equal(t, "20", argValue(gotArgs, "--max-time"))
	require.Equal(t, "regdocs-test", argValue(gotArgs, "-A"))
	require.Equal(t, "Accept: application/pdf", argValue(gotArgs, "-H"))
	require.Equal(t, "https://files.example.org/docs/101QD.pdf", argValue(gotArgs, "--url"))

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "%PDF-1.7", string(resp.Body))
	require.Equal(t, "application/pdf", resp.Headers.Get("Content-Type"))
	require.Empty(t, resp.Headers.Get("Location"), "only the final response headers are kept")
}

func TestCommandFallbackStatusError(t *testing.T) {
	t.Parallel()

	runner := func(context.Context, string, ...string) ([]byte, error) {
		return []byte("503"), nil
	}
	_, err := NewCommandFallback("", nil).WithRunner(runner).Fetch(context.Background(), FallbackRequest{URL: "https://registry.invalid"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestCommandFallbackRunnerError(t *testing.T) {
	t.Parallel()

	boom := errors.New("exit status 6")
	runner := func(context.Context, string, ...string) ([]byte, error) {
		return nil, boom
	}
	_, err := NewCommandFallback("", nil).WithRunner(runner).Fetch(context.Background(), FallbackRequest{URL: "https://registry.invalid"})
	require.ErrorIs(t, err, boom)
}

func TestCommandFallbackNoResponse(t *testing.T) {
	t.Parallel()

	runner := func(context.Context, string, ...string) ([]byte, error) {
		return []byte("000"), nil
	}
	_, err := NewCommandFallback("", nil).WithRunner(runner).Fetch(context.Background(), FallbackRequest{URL: "https://registry.invalid"})
	require.Error(t, err)
}

func TestParseHeaderDump(t *testing.T) {
	t.Parallel()

	headers := parseHeaderDump([]byte("HTTP/2 200\nserver: nginx\nset-cookie: a=1\nset-cookie: b=2\n\n"))
	require.Equal(t, "nginx", headers.Get("Server"))
	require.Equal(t, []string{"a=1", "b=2"}, headers.Values("Set-Cookie"))
	require.Empty(t, parseHeaderDump(nil))
}
