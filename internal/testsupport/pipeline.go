package testsupport

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"trackrelay/internal/media/ffprobe"
	"trackrelay/internal/media/mux"
)

// FakeMuxer stands in for ffmpeg: it copies the decrypted audio to the
// output path and records each request.
type FakeMuxer struct {
	mu       sync.Mutex
	requests []mux.Request
	covers   [][]byte
	err      error
	padTo    int64
}

// Fail makes subsequent Mux calls return err.
func (f *FakeMuxer) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// PadTo grows every output to at least size bytes.
func (f *FakeMuxer) PadTo(size int64) {
	f.mu.Lock()
	f.padTo = size
	f.mu.Unlock()
}

// Mux implements the pipeline muxer contract.
func (f *FakeMuxer) Mux(ctx context.Context, req mux.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var cover []byte
	if req.CoverPath != "" {
		cover, _ = os.ReadFile(req.CoverPath)
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.covers = append(f.covers, cover)
	err, padTo := f.err, f.padTo
	f.mu.Unlock()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}
	if int64(len(data)) < padTo {
		data = append(data, make([]byte, padTo-int64(len(data)))...)
	}
	return os.WriteFile(req.OutputPath, data, 0o644)
}

// Calls returns how many times Mux ran.
func (f *FakeMuxer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Last returns the most recent request and the cover bytes it referenced.
func (f *FakeMuxer) Last() (mux.Request, []byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return mux.Request{}, nil, false
	}
	n := len(f.requests) - 1
	return f.requests[n], f.covers[n], true
}

// AudioProbe returns an ffprobe stand-in reporting one audio stream of the
// given duration for any existing file.
func AudioProbe(duration time.Duration) func(ctx context.Context, binary, path string) (ffprobe.Result, error) {
	return func(ctx context.Context, _ string, path string) (ffprobe.Result, error) {
		info, err := os.Stat(path)
		if err != nil {
			return ffprobe.Result{}, err
		}
		return ffprobe.Result{
			Streams: []ffprobe.Stream{{Index: 0, CodecName: "alac", CodecType: "audio", Channels: 2}},
			Format: ffprobe.Format{
				Filename:   path,
				Duration:   strconv.FormatFloat(duration.Seconds(), 'f', 3, 64),
				Size:       strconv.FormatInt(info.Size(), 10),
				FormatName: "mov,mp4,m4a,3gp,3g2,mj2",
			},
		}, nil
	}
}
