package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	pages map[string]string
	err   error
	urls  []string
}

func (s *stubFetcher) FetchPage(_ context.Context, url string) ([]byte, error) {
	s.urls = append(s.urls, url)
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.pages[url]), nil
}

func TestReaderMirrorPrefixesURL(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{pages: map[string]string{
		"https://r.jina.ai/https://registry.example.org/list?page=2": "| a | b |",
	}}
	body, err := NewReaderMirror("https://r.jina.ai", f).Snapshot(context.Background(), "https://registry.example.org/list?page=2")
	require.NoError(t, err)
	require.Equal(t, "| a | b |", string(body))
}

func TestReaderMirrorEmpty(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{pages: map[string]string{}}
	_, err := NewReaderMirror("https://r.jina.ai/", f).Snapshot(context.Background(), "https://registry.example.org")
	require.ErrorIs(t, err, ErrEmptySnapshot)
}

func TestLocalRendererProducesPipeTable(t *testing.T) {
	t.Parallel()

	html := `<html><body><table>
<tr><th>Số hiệu</th><th>Cơ quan</th><th>Ngày</th><th>Trích yếu</th></tr>
<tr><td><a href="/detail?id=7">7/TB-HQ</a></td><td>Cục Hải quan</td><td>02/02/2024</td><td>Thông báo</td></tr>
</table></body></html>`
	f := &stubFetcher{pages: map[string]string{"https://registry.example.org/list": html}}

	body, err := NewLocalRenderer(f).Snapshot(context.Background(), "https://registry.example.org/list")
	require.NoError(t, err)
	md := string(body)
	require.Contains(t, md, "|")
	require.Contains(t, md, "7/TB-HQ")
	require.Contains(t, md, "(https://registry.example.org/detail?id=7)")
	require.Contains(t, md, "Cục Hải quan")
}

func TestChainFallsThrough(t *testing.T) {
	t.Parallel()

	failing := NewReaderMirror("https://mirror.invalid/", &stubFetcher{err: errors.New("dial tcp4: refused")})
	ok := NewLocalRenderer(&stubFetcher{pages: map[string]string{"https://registry.example.org": "<p>xin chào</p>"}})

	body, err := Chain{failing, ok}.Snapshot(context.Background(), "https://registry.example.org")
	require.NoError(t, err)
	require.Contains(t, string(body), "xin chào")

	_, err = Chain{failing}.Snapshot(context.Background(), "https://registry.example.org")
	require.Error(t, err)

	_, err = Chain{}.Snapshot(context.Background(), "https://registry.example.org")
	require.ErrorIs(t, err, ErrEmptySnapshot)
}
