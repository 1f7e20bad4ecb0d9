package proxy

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// request is one call sent to the image proxy subprocess. Args are method
// specific; see the call sites in image.go and blob.go.
type request struct {
	Method string   `json:"method"`
	Args   []string `json:"args,omitempty"`
}

// response is the subprocess's reply. PipeID, when non-negative, names a
// pending fd that the subprocess has sent (or is about to send) over the
// control socket via SCM_RIGHTS.
type response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	PipeID  int             `json:"pipeid,omitempty"`
}

// writeFrame writes a length-prefixed JSON message: a 4-byte big-endian
// length followed by the encoded payload.
func writeFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("writing frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed JSON message into v.
func readFrame(r *bufio.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return fmt.Errorf("reading frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("reading frame body: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decoding frame: %w", err)
	}
	return nil
}
