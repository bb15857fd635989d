package msgpair

import (
	"errors"
	"fmt"
	"slices"

	"github.com/edup2p/nearby/types/key"
	"github.com/edup2p/nearby/types/peer"
)

// Hello wire format:
//   Magic (8) + Version (1) + Session (32) + ID length (1) + ID

const helloHeaderLen = len(Magic) + 1 + key.Len + 1

// Hello introduces one side of a connection to the other.
type Hello struct {
	ID peer.ID

	Session key.SessionPublic
}

func (h *Hello) Marshal() []byte {
	return slices.Concat(
		MagicBytes,
		[]byte{byte(v1)},
		h.Session.ToByteSlice(),
		[]byte{byte(len(h.ID))},
		[]byte(h.ID),
	)
}

func (h *Hello) Debug() string {
	return fmt.Sprintf("hello id=%s sess=%s", h.ID, h.Session.Debug())
}

func LooksLikeHello(b []byte) bool {
	if len(b) < helloHeaderLen {
		return false
	}

	return string(b[:len(Magic)]) == Magic
}

func ParseHello(b []byte) (*Hello, error) {
	if !LooksLikeHello(b) {
		return nil, errors.New("not a hello")
	}
	b = b[len(Magic):]

	if VersionMarker(b[0]) != v1 {
		return nil, fmt.Errorf("invalid version: %x", b[0])
	}
	b = b[1:]

	sess := key.MakeSessionPublic([key.Len]byte(b[:key.Len]))
	b = b[key.Len:]

	idLen := int(b[0])
	b = b[1:]

	if len(b) != idLen {
		return nil, fmt.Errorf("hello id length mismatch: header says %d, got %d", idLen, len(b))
	}

	id, err := peer.ParseID(string(b))
	if err != nil {
		return nil, fmt.Errorf("invalid hello id: %w", err)
	}

	if sess.IsZero() {
		return nil, errors.New("hello with zero session key")
	}

	return &Hello{ID: id, Session: sess}, nil
}
