package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
)

// segmentSource feeds downloaded segments to the backend one frame at a time,
// so memory stays bounded by the largest segment.
type segmentSource struct {
	ctx   context.Context
	paths []string
	next  int
}

func (s *segmentSource) Next() (uint32, []byte, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, nil, err
	}
	if s.next >= len(s.paths) {
		return 0, nil, io.EOF
	}
	index := s.next
	data, err := os.ReadFile(s.paths[index])
	if err != nil {
		return 0, nil, fmt.Errorf("read segment %d: %w", index, err)
	}
	s.next++
	return uint32(index), data, nil
}

// fileSink appends decrypted frames to an open file in index order.
type fileSink struct {
	file     *os.File
	expected uint32
	written  int64
}

func (s *fileSink) Put(index uint32, data []byte) error {
	if index != s.expected {
		return fmt.Errorf("decrypted frame %d arrived out of order (want %d)", index, s.expected)
	}
	n, err := s.file.Write(data)
	s.written += int64(n)
	if err != nil {
		return err
	}
	s.expected++
	return nil
}
