package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
)

// download streams url into path. Bytes already in path from an interrupted
// attempt are resumed with a Range request; a server that ignores or rejects
// the range gets the file rewritten from the start. path is left in place on
// failure so the next attempt can continue it. It returns the offset the
// transfer resumed from and the bytes written by this call.
func (m *Manager) download(ctx context.Context, url, path string, size int64, progress ProgressFunc) (resumed, written int64, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, 0, domain.IOError(zerr.With(zerr.Wrap(err, "open partial download"), "path", path))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, domain.IOError(zerr.With(zerr.Wrap(err, "stat partial download"), "path", path))
	}
	offset := info.Size()
	if size > 0 && offset > size {
		m.logger.Warn("partial download is larger than the asset, starting over", "path", path, "bytes", offset, "size", size)
		offset = 0
	}
	if size > 0 && offset == size {
		m.logger.Debug("partial download already complete", "path", path)
		return offset, 0, nil
	}

	resp, offset, err := m.request(ctx, url, offset)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if offset > 0 {
		m.logger.Info("resuming download", "url", url, "offset", offset)
	}

	if err := f.Truncate(offset); err != nil {
		return 0, 0, domain.IOError(zerr.With(zerr.Wrap(err, "truncate partial download"), "path", path))
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, 0, domain.IOError(zerr.With(zerr.Wrap(err, "seek partial download"), "path", path))
	}

	total := size
	if total <= 0 && resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}
	var w io.Writer = f
	if progress != nil {
		w = &progressWriter{w: f, done: offset, total: total, fn: progress}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !domain.IsTimeout(ctxErr) {
			return offset, n, ctxErr
		}
		return offset, n, zerr.With(domain.NetworkError(zerr.Wrap(err, "read archive body")), "url", url)
	}
	if err := f.Sync(); err != nil {
		return offset, n, domain.IOError(zerr.With(zerr.Wrap(err, "sync partial download"), "path", path))
	}
	if err := f.Close(); err != nil {
		return offset, n, domain.IOError(zerr.With(zerr.Wrap(err, "close partial download"), "path", path))
	}
	return offset, n, nil
}

// request starts the transfer from offset. It falls back to a full request
// when the server answers the range with 416 or with a different start, and
// reports the offset the response body actually begins at.
func (m *Manager) request(ctx context.Context, url string, offset int64) (*http.Response, int64, error) {
	resp, err := m.get(ctx, url, offset)
	if err != nil {
		return nil, 0, err
	}
	if offset > 0 {
		mismatch := resp.StatusCode == http.StatusPartialContent && contentRangeStart(resp) != offset
		if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable || mismatch {
			resp.Body.Close()
			m.logger.Debug("server refused the resume range, starting over", "url", url, "status", resp.StatusCode)
			offset = 0
			if resp, err = m.get(ctx, url, 0); err != nil {
				return nil, 0, err
			}
		}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp, 0, nil
	case http.StatusPartialContent:
		if offset > 0 {
			return resp, offset, nil
		}
	}
	resp.Body.Close()
	return nil, 0, statusError(resp.StatusCode, url)
}

func (m *Manager) get(ctx context.Context, url string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "create request"), "url", url)
	}
	req.Header.Set("User-Agent", m.userAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, zerr.With(domain.NetworkError(zerr.Wrap(err, "download archive")), "url", url)
	}
	return resp, nil
}

// contentRangeStart returns the first byte position of a 206 response, or
// -1 when the header is missing or malformed.
func contentRangeStart(resp *http.Response) int64 {
	spec, ok := strings.CutPrefix(resp.Header.Get("Content-Range"), "bytes ")
	if !ok {
		return -1
	}
	first, _, ok := strings.Cut(spec, "-")
	if !ok {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// statusError reports a failed download. A missing asset means the index
// advertised something the server does not have, which is a resolution
// failure on top of the transport one.
func statusError(code int, url string) error {
	err := domain.Classify(domain.ErrNetwork,
		zerr.With(zerr.With(zerr.New("unexpected HTTP status"), "status", code), "url", url))
	if code == http.StatusNotFound || code == http.StatusGone {
		return domain.Classify(domain.ErrResolutionFailed, err)
	}
	return err
}

// resumable reports whether a failed transfer left a partial file worth
// continuing: interruptions and transport failures, not missing assets or
// verification failures.
func resumable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch domain.KindOf(err) {
	case domain.ErrNetwork, domain.ErrTimeout:
		return true
	}
	return false
}

type progressWriter struct {
	w     io.Writer
	done  int64
	total int64
	fn    ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	p.fn(p.done, p.total)
	return n, err
}
