package actors

import (
	"slices"

	"github.com/edup2p/nearby/types/peer"
)

// candidates is the FIFO of discovered peers that have not been tried yet.
// A peer is queued at most once, keeping the position of its first sighting.
type candidates struct {
	order []peer.ID
}

func (c *candidates) push(id peer.ID) {
	if !slices.Contains(c.order, id) {
		c.order = append(c.order, id)
	}
}

func (c *candidates) remove(id peer.ID) {
	c.order = slices.DeleteFunc(c.order, func(o peer.ID) bool {
		return o == id
	})
}

func (c *candidates) contains(id peer.ID) bool {
	return slices.Contains(c.order, id)
}

// pop takes preferred out if it is queued, else the earliest candidate,
// unless onlyPreferred is set.
func (c *candidates) pop(preferred peer.ID, onlyPreferred bool) (peer.ID, bool) {
	if !preferred.IsZero() && c.contains(preferred) {
		c.remove(preferred)
		return preferred, true
	}

	if onlyPreferred || len(c.order) == 0 {
		return "", false
	}

	id := c.order[0]
	c.order = c.order[1:]
	return id, true
}

func (c *candidates) clear() {
	c.order = nil
}

func (c *candidates) list() []peer.ID {
	return slices.Clone(c.order)
}
