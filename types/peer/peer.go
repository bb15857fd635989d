// Package peer contains the identity of a pairing process, and the small value types
// that travel between the discovery, transport and engine components.
package peer

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/edup2p/nearby/types/key"
	"github.com/google/uuid"
)

// MaxIDLen is bounded by the length of a single DNS label, as IDs are used as mDNS instance names.
const MaxIDLen = 63

// ID identifies one process instance on the network. It is compared by value.
type ID string

// NewID generates a fresh random identity.
func NewID() ID {
	return ID(uuid.NewString())
}

// ParseID validates a host-supplied identity.
func ParseID(s string) (ID, error) {
	if s == "" {
		return "", errors.New("empty peer id")
	}
	if len(s) > MaxIDLen {
		return "", fmt.Errorf("peer id too long: %d > %d", len(s), MaxIDLen)
	}
	if strings.ContainsAny(s, ". \\\x00") {
		return "", fmt.Errorf("peer id %q contains reserved characters", s)
	}
	return ID(s), nil
}

func (id ID) String() string {
	return string(id)
}

// Short returns a prefix of the ID, for logging.
func (id ID) Short() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

func (id ID) IsZero() bool {
	return id == ""
}

// Less gives a total order over IDs, used to break ties deterministically between two peers.
func (id ID) Less(other ID) bool {
	return id < other
}

// Record is what the browser knows about a visible peer.
type Record struct {
	ID ID

	// Where the peer accepts invitations.
	Addr netip.AddrPort

	// The session key the peer announced, pinned during the transport handshake.
	Session key.SessionPublic

	DiscoveredAt time.Time
	LastSeen     time.Time
}
