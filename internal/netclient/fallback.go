package netclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FallbackRequest carries the settings the external fetcher must mirror.
type FallbackRequest struct {
	URL       string
	Headers   http.Header
	Timeout   time.Duration
	UserAgent string
}

// Fallback fetches a URL outside of the Go network stack.
type Fallback interface {
	Fetch(ctx context.Context, req FallbackRequest) (Response, error)
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// CommandFallback shells out to curl, writing headers and body to temp files.
type CommandFallback struct {
	path   string
	run    Runner
	logger *zap.Logger
}

// NewCommandFallback builds a fallback that runs the curl binary at path.
func NewCommandFallback(path string, logger *zap.Logger) *CommandFallback {
	if path == "" {
		path = "curl"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandFallback{path: path, run: execRunner, logger: logger.Named("fallback")}
}

// WithRunner swaps the process runner, mostly for tests.
func (f *CommandFallback) WithRunner(run Runner) *CommandFallback {
	f.run = run
	return f
}

// Fetch runs the external fetcher and normalizes its output.
func (f *CommandFallback) Fetch(ctx context.Context, req FallbackRequest) (Response, error) {
	dir, err := os.MkdirTemp("", "regdocs-fetch-*")
	if err != nil {
		return Response{}, fmt.Errorf("create fallback temp dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			f.logger.Warn("remove fallback temp dir", zap.String("dir", dir), zap.Error(rmErr))
		}
	}()

	headerPath := filepath.Join(dir, "headers")
	bodyPath := filepath.Join(dir, "body")
	args := curlArgs(req, headerPath, bodyPath)

	start := time.Now()
	out, err := f.run(ctx, f.path, args...)
	if err != nil {
		return Response{}, fmt.Errorf("run %s: %w", f.path, err)
	}

	code, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil || code == 0 {
		return Response{}, fmt.Errorf("parse %s status %q: no response", f.path, strings.TrimSpace(string(out)))
	}
	if code >= http.StatusBadRequest {
		return Response{}, &StatusError{URL: req.URL, StatusCode: code}
	}

	body, err := os.ReadFile(bodyPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Response{}, fmt.Errorf("read fallback body: %w", err)
	}
	rawHeaders, err := os.ReadFile(headerPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Response{}, fmt.Errorf("read fallback headers: %w", err)
	}

	return Response{
		URL:        req.URL,
		StatusCode: code,
		Headers:    parseHeaderDump(rawHeaders),
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}

func curlArgs(req FallbackRequest, headerPath, bodyPath string) []string {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	seconds := int(timeout.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	args := []string{
		"-sS", "-L", "-4",
		"--noproxy", "*",
		"--max-time", strconv.Itoa(seconds),
		"-D", headerPath,
		"-o", bodyPath,
		"-w", "%{http_code}",
	}
	if req.UserAgent != "" {
		args = append(args, "-A", req.UserAgent)
	}
	for key, values := range req.Headers {
		for _, v := range values {
			args = append(args, "-H", key+": "+v)
		}
	}
	return append(args, "--url", req.URL)
}

// parseHeaderDump keeps the headers of the final response in a redirect chain.
func parseHeaderDump(raw []byte) http.Header {
	headers := http.Header{}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	var last string
	for _, block := range strings.Split(text, "\n\n") {
		block = strings.TrimSpace(block)
		if strings.HasPrefix(block, "HTTP/") {
			last = block
		}
	}
	for i, line := range strings.Split(last, "\n") {
		if i == 0 {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		headers.Add(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return headers
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}
