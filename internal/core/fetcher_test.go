package core

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDownloader struct {
	body        string
	disposition string
	err         error

	gotProduct string
	gotCover   bool
}

func (f *fakeDownloader) Download(_ context.Context, productID string, cover bool) (*Download, error) {
	f.gotProduct = productID
	f.gotCover = cover
	if f.err != nil {
		return nil, f.err
	}
	return &Download{
		Body:               io.NopCloser(strings.NewReader(f.body)),
		ContentDisposition: f.disposition,
	}, nil
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFetcher_Fetch(t *testing.T) {
	scratch := filepath.Join(t.TempDir(), "pdfdownload")
	dl := &fakeDownloader{
		body:        "%PDF-1.7\nbody",
		disposition: `attachment; filename="invoice.pdf"`,
	}
	f := NewFetcher(dl, scratch, time.Second)

	doc, err := f.Fetch(context.Background(), "p9", true)
	require.NoError(t, err)

	assert.Equal(t, "p9", dl.gotProduct)
	assert.True(t, dl.gotCover)
	assert.Equal(t, "invoice.pdf", doc.Filename)
	assert.Equal(t, scratch, filepath.Dir(doc.Path))
	assert.True(t, strings.HasSuffix(doc.Path, "-invoice.pdf"))

	data, err := os.ReadFile(doc.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7\nbody", string(data))
}

func TestFetcher_UniqueNames(t *testing.T) {
	scratch := t.TempDir()
	dl := &fakeDownloader{body: "%PDF-1.4", disposition: `attachment; filename=same.pdf`}
	f := NewFetcher(dl, scratch, time.Second)

	first, err := f.Fetch(context.Background(), "p1", false)
	require.NoError(t, err)
	second, err := f.Fetch(context.Background(), "p1", false)
	require.NoError(t, err)

	assert.NotEqual(t, first.Path, second.Path)
	assert.Len(t, listDir(t, scratch), 2)
}

func TestFetcher_SynthesizesFilename(t *testing.T) {
	scratch := t.TempDir()
	f := NewFetcher(&fakeDownloader{body: "%PDF-1.4"}, scratch, time.Second)
	f.now = func() time.Time { return time.UnixMilli(1700000000123) }

	doc, err := f.Fetch(context.Background(), "p1", false)
	require.NoError(t, err)
	assert.Equal(t, "file-1700000000123.pdf", doc.Filename)
}

func TestFetcher_RejectsNonPDF(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"html error page", "<html>nope</html>"},
		{"too short", "%PD"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scratch := t.TempDir()
			f := NewFetcher(&fakeDownloader{body: tt.body}, scratch, time.Second)

			doc, err := f.Fetch(context.Background(), "p9", false)
			require.Error(t, err)
			assert.Nil(t, doc)
			assert.True(t, errors.Is(err, ErrDownload), "got %v", err)
			assert.Empty(t, listDir(t, scratch))
		})
	}
}

func TestFetcher_DownloadError(t *testing.T) {
	scratch := t.TempDir()

	plain := errors.New("connection refused")
	f := NewFetcher(&fakeDownloader{err: plain}, scratch, time.Second)
	_, err := f.Fetch(context.Background(), "p9", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDownload))
	assert.True(t, errors.Is(err, plain))

	typed := NewError(ErrDownload, "download p9", nil)
	typed.Status = 404
	f = NewFetcher(&fakeDownloader{err: typed}, scratch, time.Second)
	_, err = f.Fetch(context.Background(), "p9", false)
	var target *Error
	require.True(t, errors.As(err, &target))
	assert.Equal(t, 404, target.Status)
	assert.Empty(t, listDir(t, scratch))
}

func TestFilenameFromDisposition(t *testing.T) {
	tests := []struct {
		name        string
		disposition string
		want        string
	}{
		{"empty", "", ""},
		{"quoted", `attachment; filename="report.pdf"`, "report.pdf"},
		{"token", `attachment; filename=report.pdf`, "report.pdf"},
		{"rfc 6266 extended", `attachment; filename*=UTF-8''r%C3%A9sum%C3%A9.pdf`, "résumé.pdf"},
		{"path traversal", `attachment; filename="../../etc/passwd"`, "passwd"},
		{"nested path", `attachment; filename="docs/2024/doc.pdf"`, "doc.pdf"},
		{"no filename", `inline`, ""},
		{"dot only", `attachment; filename=".."`, ""},
		{"malformed falls back to regex", `attachment; filename="a b.pdf`, "a b.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilenameFromDisposition(tt.disposition))
		})
	}
}
