package wrapper_test

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"trackrelay/internal/wrapper"
)

func TestRequestFramesEndWithTerminator(t *testing.T) {
	var buf bytes.Buffer
	if err := wrapper.WriteHeader(&buf, wrapper.DecryptHeader{AdamID: "9", KeyURI: "skd://k", Codec: "aac"}); err != nil {
		t.Fatal(err)
	}
	if err := wrapper.WriteRequestFrame(&buf, 3, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if err := wrapper.WriteEndOfStream(&buf); err != nil {
		t.Fatal(err)
	}

	r := bufio.NewReader(&buf)
	header, err := wrapper.ReadHeader(r)
	if err != nil || header.AdamID != "9" || header.Codec != "aac" {
		t.Fatalf("ReadHeader: %+v %v", header, err)
	}
	index, payload, err := wrapper.ReadRequestFrame(r)
	if err != nil || index != 3 || string(payload) != "abc" {
		t.Fatalf("ReadRequestFrame: %d %q %v", index, payload, err)
	}
	if _, _, err := wrapper.ReadRequestFrame(r); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF at terminator, got %v", err)
	}
}

func TestResponseFrameCarriesSignedCode(t *testing.T) {
	var buf bytes.Buffer
	if err := wrapper.WriteResponseFrame(&buf, 1, -1, []byte("boom")); err != nil {
		t.Fatal(err)
	}
	index, code, payload, err := wrapper.ReadResponseFrame(&buf)
	if err != nil || index != 1 || code != -1 || string(payload) != "boom" {
		t.Fatalf("unexpected frame %d %d %q %v", index, code, payload, err)
	}
	if _, _, _, err := wrapper.ReadResponseFrame(&buf); !errors.Is(err, io.EOF) {
		t.Fatalf("expected clean EOF, got %v", err)
	}
}

func TestTruncatedFrameIsUnexpectedEOF(t *testing.T) {
	var buf bytes.Buffer
	if err := wrapper.WriteResponseFrame(&buf, 1, 0, []byte("payload")); err != nil {
		t.Fatal(err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])
	if _, _, _, err := wrapper.ReadResponseFrame(truncated); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}
