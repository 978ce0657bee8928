package retrieval

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"litigation-backend/internal/audit"
	"litigation-backend/internal/extract"
	"litigation-backend/internal/shared/storage/object"
	"litigation-backend/internal/shared/util"
)

const (
	defaultDownloadTimeout = 60 * time.Second
	defaultMaxFileBytes    = 64 << 20
	errorBodyBytes         = 512
)

// StoredFile is where a downloaded document ended up.
type StoredFile struct {
	Path     string
	Size     int64
	Pages    int
	MimeType string
}

// Downloader fetches one document and writes it to the object store.
type Downloader struct {
	Store    object.ObjectStore
	Timeout  time.Duration
	MaxBytes int64
}

// Download fetches rec.FileURL with client. Every failure is a *DownloadError.
func (d *Downloader) Download(ctx context.Context, client *http.Client, rec DocumentRecord) (StoredFile, error) {
	if strings.TrimSpace(rec.FileURL) == "" {
		return StoredFile{}, &DownloadError{Key: rec.Key(), Err: fmt.Errorf("empty file url")}
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultDownloadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.FileURL, nil)
	if err != nil {
		return StoredFile{}, &DownloadError{Key: rec.Key(), Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return StoredFile{}, &DownloadError{Key: rec.Key(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyBytes))
		body, _ := audit.Truncate(snippet, errorBodyBytes)
		return StoredFile{}, &DownloadError{
			Key:        rec.Key(),
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("http %d: %s", resp.StatusCode, body),
		}
	}

	limit := d.MaxBytes
	if limit <= 0 {
		limit = defaultMaxFileBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return StoredFile{}, &DownloadError{Key: rec.Key(), Err: err}
	}
	if int64(len(data)) > limit {
		return StoredFile{}, &DownloadError{Key: rec.Key(), Err: fmt.Errorf("file exceeds %d bytes", limit)}
	}
	if len(data) == 0 {
		return StoredFile{}, &DownloadError{Key: rec.Key(), Err: fmt.Errorf("empty body")}
	}

	hint := rec.FileType
	if hint == "" {
		hint = path.Base(req.URL.Path)
	}
	info := extract.Inspect(data, resp.Header.Get("Content-Type"), hint)
	key := StorageKey(rec.CaseRef, rec.DocumentNumber, rec.DeliveryNumber, info.Extension)

	size, err := d.Store.SaveWithKey(ctx, key, info.MimeType, bytes.NewReader(data))
	if err != nil {
		return StoredFile{}, &DownloadError{Key: rec.Key(), Err: fmt.Errorf("store %s: %w", key, err)}
	}
	return StoredFile{Path: key, Size: size, Pages: info.Pages, MimeType: info.MimeType}, nil
}

// StorageKey lays files out as documents/<caseRef>/<documentNumber>_<deliveryNumber>.<ext>.
func StorageKey(caseRef, documentNumber, deliveryNumber, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("documents/%s/%s_%s.%s",
		keyPart(caseRef, "unassigned"),
		keyPart(documentNumber, "doc"),
		keyPart(deliveryNumber, "delivery"),
		keyPart(ext, "bin"),
	)
}

// keyPart makes one path segment safe; unusable input collapses to a stable hash.
func keyPart(s, empty string) string {
	if strings.TrimSpace(s) == "" {
		return empty
	}
	clean, err := util.SanitizeFileName(s)
	if err != nil {
		return util.Fingerprint(s)
	}
	return clean
}
