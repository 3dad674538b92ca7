package wrapper

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// EndOfStream is the frame index that terminates a decrypt stream.
const EndOfStream uint32 = 0xFFFFFFFF

// MaxFrameSize bounds a single frame payload.
const MaxFrameSize = 64 << 20

// DecryptHeader opens a decrypt request stream.
type DecryptHeader struct {
	AdamID string `json:"adam_id"`
	KeyURI string `json:"key_uri"`
	Codec  string `json:"codec"`
}

// WriteHeader writes the JSON header line that precedes request frames.
func WriteHeader(w io.Writer, header DecryptHeader) error {
	data, err := json.Marshal(header)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// ReadHeader reads the JSON header line of a decrypt request.
func ReadHeader(r *bufio.Reader) (DecryptHeader, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return DecryptHeader{}, err
	}
	var header DecryptHeader
	if err := json.Unmarshal(line, &header); err != nil {
		return DecryptHeader{}, fmt.Errorf("decode decrypt header: %w", err)
	}
	return header, nil
}

// WriteRequestFrame writes [u32 index][u32 len][payload].
func WriteRequestFrame(w io.Writer, index uint32, payload []byte) error {
	var prefix [8]byte
	binary.BigEndian.PutUint32(prefix[0:4], index)
	binary.BigEndian.PutUint32(prefix[4:8], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// WriteEndOfStream terminates a request frame stream.
func WriteEndOfStream(w io.Writer) error {
	return WriteRequestFrame(w, EndOfStream, nil)
}

// ReadRequestFrame reads one request frame. The end-of-stream frame is
// reported as io.EOF.
func ReadRequestFrame(r io.Reader) (uint32, []byte, error) {
	var prefix [8]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, nil, unexpectedEOF(err)
	}
	index := binary.BigEndian.Uint32(prefix[0:4])
	size := binary.BigEndian.Uint32(prefix[4:8])
	if index == EndOfStream {
		return index, nil, io.EOF
	}
	payload, err := readPayload(r, size)
	return index, payload, err
}

// WriteResponseFrame writes [u32 index][i32 code][u32 len][payload].
func WriteResponseFrame(w io.Writer, index uint32, code int32, payload []byte) error {
	var prefix [12]byte
	binary.BigEndian.PutUint32(prefix[0:4], index)
	binary.BigEndian.PutUint32(prefix[4:8], uint32(code))
	binary.BigEndian.PutUint32(prefix[8:12], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// ReadResponseFrame reads one response frame. A clean end of the body or the
// end-of-stream frame is reported as io.EOF.
func ReadResponseFrame(r io.Reader) (uint32, int32, []byte, error) {
	var prefix [12]byte
	n, err := io.ReadFull(r, prefix[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return 0, 0, nil, io.EOF
		}
		return 0, 0, nil, unexpectedEOF(err)
	}
	index := binary.BigEndian.Uint32(prefix[0:4])
	code := int32(binary.BigEndian.Uint32(prefix[4:8]))
	size := binary.BigEndian.Uint32(prefix[8:12])
	if index == EndOfStream {
		return index, code, nil, io.EOF
	}
	payload, err := readPayload(r, size)
	return index, code, payload, err
}

func readPayload(r io.Reader, size uint32) ([]byte, error) {
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, unexpectedEOF(err)
	}
	return payload, nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
