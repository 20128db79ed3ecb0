package labels

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultLabelsCoverVariants(t *testing.T) {
	t.Parallel()

	d := NewDictionary(DefaultLabels)
	for _, label := range []string{"Số hiệu", "Số hiệu văn bản:", "  SỐ  KÝ HIỆU : "} {
		field, ok := d.Lookup(label)
		require.True(t, ok, label)
		require.Equal(t, FieldDocumentNumber, field, label)
	}
	field, ok := d.Lookup("Người ký:")
	require.True(t, ok)
	require.Equal(t, FieldSigner, field)

	_, ok = d.Lookup("Lượt xem")
	require.False(t, ok)
}

func TestNormalizeComposesUnicode(t *testing.T) {
	t.Parallel()

	// "ố" written as o + circumflex + acute combining marks.
	decomposed := "So\u0302\u0301 hie\u0323\u0302u"
	require.Equal(t, Normalize("Số hiệu"), Normalize(decomposed))
}

func TestRawLabelsLongestFirst(t *testing.T) {
	t.Parallel()

	raw := NewDictionary(DefaultLabels).RawLabels()
	require.Len(t, raw, len(DefaultLabels))
	for i := 1; i < len(raw); i++ {
		require.GreaterOrEqual(t, len(raw[i-1]), len(raw[i]))
	}
}

func TestParseOverridesSkipsInvalidEntries(t *testing.T) {
	t.Parallel()

	yamlDoc := []byte(`
"Ký hiệu": document_number
"Nơi ban hành": issuing_agency
"Lượt xem": views
"Số trang": 12
`)
	overrides, issues, err := ParseOverrides("labels.yaml", yamlDoc)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"Ký hiệu":      FieldDocumentNumber,
		"Nơi ban hành": FieldIssuingAgency,
	}, overrides)
	require.Len(t, issues, 2)

	jsonDoc := []byte(`{"Chức vụ người ký": "signer", "bad": ["x"]}`)
	overrides, issues, err = ParseOverrides("labels.json", jsonDoc)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"Chức vụ người ký": FieldSigner}, overrides)
	require.Len(t, issues, 1)

	_, _, err = ParseOverrides("labels.json", []byte("{not json"))
	require.Error(t, err)

	overrides, _, err = ParseOverrides("labels.conf", []byte("Ký hiệu: document_number\n"))
	require.NoError(t, err)
	require.Equal(t, FieldDocumentNumber, overrides["Ký hiệu"])
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestFileProviderMergesOverrides(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "labels.yaml")
	writeFile(t, path, "\"Ký hiệu\": document_number\n\"Trích yếu\": summary\n\"Xấu\": nope\n")

	p := NewFileProvider(Config{Path: path}, nil)
	field, ok := p.Lookup("Ký hiệu:")
	require.True(t, ok)
	require.Equal(t, FieldDocumentNumber, field)

	field, ok = p.Lookup("Trích yếu")
	require.True(t, ok)
	require.Equal(t, FieldSummary, field, "overrides replace defaults")

	_, ok = p.Lookup("Xấu")
	require.False(t, ok)

	// Defaults stay available.
	field, ok = p.Lookup("Cơ quan ban hành")
	require.True(t, ok)
	require.Equal(t, FieldIssuingAgency, field)
}

func TestFileProviderMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	p := NewFileProvider(Config{Path: filepath.Join(t.TempDir(), "absent.json")}, nil)
	require.Len(t, p.Snapshot(), len(DefaultLabels))
}

func TestFileProviderReloadAndSubscribe(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "labels.json")
	writeFile(t, path, `{"Ký hiệu": "document_number"}`)
	p := NewFileProvider(Config{Path: path}, nil)

	updates, cancel := p.Subscribe()
	defer cancel()

	writeFile(t, path, `{"Ký hiệu": "document_number", "Ngày đăng": "issue_date"}`)
	require.NoError(t, p.Reload(context.Background()))

	select {
	case table := <-updates:
		require.Equal(t, FieldIssueDate, table["Ngày đăng"])
	case <-time.After(time.Second):
		t.Fatal("expected a label update")
	}

	field, ok := p.Lookup("ngày đăng")
	require.True(t, ok)
	require.Equal(t, FieldIssueDate, field)
}

func TestFileProviderReloadKeepsPreviousOnError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "labels.json")
	writeFile(t, path, `{"Ký hiệu": "document_number"}`)
	p := NewFileProvider(Config{Path: path}, nil)

	writeFile(t, path, `{"Ký hiệu": `)
	require.Error(t, p.Reload(context.Background()))

	_, ok := p.Lookup("Ký hiệu")
	require.True(t, ok)
}

func TestFileProviderWatchesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "labels.yaml")
	writeFile(t, path, "\"Ký hiệu\": document_number\n")
	p := NewFileProvider(Config{Path: path, Watch: true, Debounce: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	defer func() { require.NoError(t, p.Close()) }()

	writeFile(t, path, "\"Ký hiệu\": document_number\n\"Văn bản số\": document_number\n")

	require.Eventually(t, func() bool {
		_, ok := p.Lookup("Văn bản số")
		return ok
	}, 3*time.Second, 20*time.Millisecond)
}

func TestFileProviderPollsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "labels.json")
	writeFile(t, path, `{}`)
	p := NewFileProvider(Config{Path: path, PollInterval: 20 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.Start(ctx))
	defer func() { require.NoError(t, p.Close()) }()

	writeFile(t, path, `{"Nơi ký": "signer"}`)

	require.Eventually(t, func() bool {
		field, ok := p.Lookup("Nơi ký")
		return ok && field == FieldSigner
	}, 3*time.Second, 20*time.Millisecond)
}

func TestCloseWithoutStart(t *testing.T) {
	t.Parallel()

	p := NewFileProvider(Config{}, nil)
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Close())
}
