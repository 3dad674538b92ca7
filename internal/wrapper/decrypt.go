package wrapper

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
)

// SampleSource yields encrypted samples in order. Next returns io.EOF after
// the last sample.
type SampleSource interface {
	Next() (index uint32, data []byte, err error)
}

// SampleSink receives decrypted samples in the order the backend returns them.
type SampleSink interface {
	Put(index uint32, data []byte) error
}

var errStreamAborted = errors.New("decrypt stream aborted")

// Decrypt streams samples from src to the backend and hands decrypted
// payloads to dst. Request and response are streamed concurrently so memory
// stays bounded by one frame. It returns the number of samples decrypted.
// An error frame from the backend stops the stream with the matching typed
// error; a failing src aborts the stream with the src error.
func (c *Client) Decrypt(ctx context.Context, header DecryptHeader, src SampleSource, dst SampleSink) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr, pw := io.Pipe()
	type writeResult struct {
		sent int
		err  error
	}
	done := make(chan writeResult, 1)
	go func() {
		sent, err := writeSamples(pw, header, src)
		pw.CloseWithError(err)
		done <- writeResult{sent: sent, err: err}
	}()

	// finish aborts the writer if still running and returns its result.
	finish := func() (writeResult, bool) {
		_ = pr.CloseWithError(errStreamAborted)
		res := <-done
		aborted := errors.Is(res.err, errStreamAborted)
		if aborted {
			res.err = nil
		}
		return res, aborted
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/decrypt", pr)
	if err != nil {
		finish()
		return 0, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		res, _ := finish()
		if res.err != nil {
			return 0, res.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, unavailable("decrypt", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		finish()
		return 0, decodeErrorBody("decrypt", resp)
	}

	reader := bufio.NewReaderSize(resp.Body, 64<<10)
	received := 0
	for {
		index, code, payload, err := ReadResponseFrame(reader)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res, _ := finish()
			if res.err != nil {
				return received, res.err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return received, ctxErr
			}
			return received, unavailable("decrypt", err)
		}
		if code != 0 {
			finish()
			return received, NewBackendError("decrypt", int(code), string(payload))
		}
		if err := dst.Put(index, payload); err != nil {
			finish()
			return received, err
		}
		received++
	}

	res, aborted := finish()
	if res.err != nil {
		return received, res.err
	}
	if aborted || received != res.sent {
		return received, protocolError("decrypt", "backend closed stream early", nil)
	}
	return received, nil
}

func writeSamples(w io.Writer, header DecryptHeader, src SampleSource) (int, error) {
	bw := bufio.NewWriterSize(w, 64<<10)
	if err := WriteHeader(bw, header); err != nil {
		return 0, err
	}
	sent := 0
	for {
		index, data, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sent, err
		}
		if err := WriteRequestFrame(bw, index, data); err != nil {
			return sent, err
		}
		if err := bw.Flush(); err != nil {
			return sent, err
		}
		sent++
	}
	if err := WriteEndOfStream(bw); err != nil {
		return sent, err
	}
	return sent, bw.Flush()
}
