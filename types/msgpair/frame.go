package msgpair

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/edup2p/nearby/types/key"
)

// MaxFrameSize caps how big a single frame on the wire can be.
const MaxFrameSize = MaxPayload + 2 + key.SealOverhead

var ErrFrameTooLarge = errors.New("frame too large")

// WriteFrame writes body as [Length (4 bytes)] + [Body].
//
// The frame is assembled first, so a single Write call puts it on the wire.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, lengthPrefix+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[lengthPrefix:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	return nil
}

// ReadFrame reads one frame written by WriteFrame.
//
// io.EOF is returned as-is when the stream ends cleanly between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [lengthPrefix]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame length: %w", err)
	}

	frameLen := binary.BigEndian.Uint32(prefix[:])

	// don't allocate arbitrary amounts of memory on behalf of the remote
	if frameLen > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, frameLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}

	return body, nil
}
