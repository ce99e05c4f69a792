package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	applog "github.com/orrn/printagent/internal/log"
)

// PDFMagic is the first five bytes of every well-formed PDF file.
var PDFMagic = []byte("%PDF-")

const defaultDownloadTimeout = 30 * time.Second

// Downloader opens a document stream for a product reference.
type Downloader interface {
	Download(ctx context.Context, productID string, cover bool) (*Download, error)
}

// Fetcher downloads documents to scratch storage and checks their magic
// bytes.
type Fetcher struct {
	downloader Downloader
	scratchDir string
	timeout    time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

func NewFetcher(d Downloader, scratchDir string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	return &Fetcher{
		downloader: d,
		scratchDir: scratchDir,
		timeout:    timeout,
		now:        time.Now,
		logger:     applog.WithComponent("fetcher"),
	}
}

// Fetch streams the document for productID into a uniquely named scratch
// file. The whole download, including the body, is bounded by the fetch
// timeout. On success the caller owns the returned file.
func (f *Fetcher) Fetch(ctx context.Context, productID string, cover bool) (*FetchedDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	dl, err := f.downloader.Download(ctx, productID, cover)
	if err != nil {
		if errors.Is(err, ErrDownload) {
			return nil, err
		}
		return nil, NewError(ErrDownload, "download "+productID, err)
	}
	defer dl.Body.Close()

	filename := FilenameFromDisposition(dl.ContentDisposition)
	if filename == "" {
		filename = fmt.Sprintf("file-%d.pdf", f.now().UnixMilli())
	}

	if err := os.MkdirAll(f.scratchDir, 0o755); err != nil {
		return nil, NewError(ErrDownload, "create scratch dir", err)
	}
	outPath := filepath.Join(f.scratchDir, uuid.NewString()+"-"+filename)

	written, err := writeStream(outPath, dl.Body)
	if err != nil {
		return nil, NewError(ErrDownload, "write "+outPath, err)
	}

	if err := checkMagic(outPath); err != nil {
		if rmErr := os.Remove(outPath); rmErr != nil {
			f.logger.Warn().Err(rmErr).Str(applog.FieldPath, outPath).Msg("failed to remove rejected download")
		}
		return nil, NewError(ErrDownload, "validate "+filename, err)
	}

	f.logger.Debug().
		Str(applog.FieldProductID, productID).
		Str(applog.FieldPath, outPath).
		Int64("bytes", written).
		Msg("document fetched")

	return &FetchedDocument{Path: outPath, Filename: filename}, nil
}

// writeStream copies r into path. The destination only appears once the
// stream has been fully written and synced.
func writeStream(path string, r io.Reader) (int64, error) {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return 0, fmt.Errorf("create pending file: %w", err)
	}
	defer pending.Cleanup()

	n, err := io.Copy(pending, r)
	if err != nil {
		return n, fmt.Errorf("copy stream: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return n, fmt.Errorf("commit file: %w", err)
	}
	return n, nil
}

func checkMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, len(PDFMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		return fmt.Errorf("file too short to be a PDF: %w", err)
	}
	if !bytes.Equal(head, PDFMagic) {
		return fmt.Errorf("not a PDF: starts with %q", head)
	}
	return nil
}

var dispositionFilename = regexp.MustCompile(`(?i)filename\*?=(?:UTF-8''|")?([^";]+)`)

// FilenameFromDisposition extracts a safe base file name from a
// Content-Disposition header value, or returns "" when there is none.
func FilenameFromDisposition(disposition string) string {
	if strings.TrimSpace(disposition) == "" {
		return ""
	}

	var name string
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		name = params["filename"]
	}
	if name == "" {
		if m := dispositionFilename.FindStringSubmatch(disposition); m != nil {
			raw := strings.ReplaceAll(m[1], `"`, "")
			if decoded, err := url.PathUnescape(raw); err == nil {
				name = decoded
			} else {
				name = raw
			}
		}
	}

	name = strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, `\`, "/")))
	switch name {
	case "", ".", "..", "/":
		return ""
	}
	return name
}
