package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const maxPlaylistBytes = 8 << 20

// statusError reports a non-success HTTP response.
type statusError struct {
	URL  string
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s returned %d", e.URL, e.Code)
}

// transient reports whether err is worth retrying the whole task for.
func transient(err error) bool {
	var status *statusError
	if errors.As(err, &status) {
		return status.Code >= http.StatusInternalServerError || status.Code == http.StatusTooManyRequests
	}
	return true
}

func (x *execution) get(ctx context.Context, ref segmentRef) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, err
	}
	if ref.Length > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", ref.Offset, ref.Offset+ref.Length-1))
	}
	resp, err := x.engine.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, &statusError{URL: ref.URL, Code: resp.StatusCode}
	}
	return resp, nil
}

// fetchPlaylist downloads a playlist body bounded by the segment timeout.
func (x *execution) fetchPlaylist(ctx context.Context, target string) ([]byte, error) {
	ctx, cancel := withOptionalTimeout(ctx, x.engine.cfg.SegmentTimeout())
	defer cancel()
	resp, err := x.get(ctx, segmentRef{URL: target})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
}

// fetchSegment writes one segment (or byte range) to dest.
func (x *execution) fetchSegment(ctx context.Context, ref segmentRef, dest string) (int64, error) {
	ctx, cancel := withOptionalTimeout(ctx, x.engine.cfg.SegmentTimeout())
	defer cancel()
	resp, err := x.get(ctx, ref)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if ref.Length > 0 {
		// Origins that ignore Range return the whole resource.
		if resp.StatusCode == http.StatusOK && ref.Offset > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, ref.Offset); err != nil {
				return 0, fmt.Errorf("skip to byte range: %w", err)
			}
		}
		body = io.LimitReader(resp.Body, ref.Length)
	}

	tmp := dest + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	written, copyErr := io.Copy(file, body)
	closeErr := file.Close()
	if copyErr == nil && ref.Length > 0 && written != ref.Length {
		copyErr = fmt.Errorf("short segment: got %d of %d bytes", written, ref.Length)
	}
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		return 0, errors.Join(copyErr, closeErr)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return written, nil
}

func segmentPath(workDir string, index int) string {
	return filepath.Join(workDir, fmt.Sprintf("segment-%05d.bin", index))
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
