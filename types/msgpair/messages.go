package msgpair

import (
	crand "crypto/rand"
	"fmt"
	"slices"
)

// Invite asks the receiving peer to pair with the sender.
type Invite struct{}

func (i *Invite) MarshalPairMessage() []byte {
	return header(InviteMessage)
}

func (i *Invite) Debug() string {
	return "invite"
}

// Accept answers an Invite; the connection carrying it becomes the session.
type Accept struct{}

func (a *Accept) MarshalPairMessage() []byte {
	return header(AcceptMessage)
}

func (a *Accept) Debug() string {
	return "accept"
}

// Reject answers an Invite; the connection is closed right after.
type Reject struct{}

func (r *Reject) MarshalPairMessage() []byte {
	return header(RejectMessage)
}

func (r *Reject) Debug() string {
	return "reject"
}

// Data carries an opaque application payload.
type Data struct {
	Payload []byte
}

func (d *Data) MarshalPairMessage() []byte {
	return slices.Concat(header(DataMessage), d.Payload)
}

func (d *Data) Debug() string {
	return fmt.Sprintf("data len=%d", len(d.Payload))
}

// Bye announces an orderly teardown of the session.
type Bye struct{}

func (b *Bye) MarshalPairMessage() []byte {
	return header(ByeMessage)
}

func (b *Bye) Debug() string {
	return "bye"
}

type TxID [12]byte

func NewTxID() TxID {
	var tx TxID
	if _, err := crand.Read(tx[:]); err != nil {
		panic(err)
	}
	return tx
}

// Ping keeps an idle session alive.
type Ping struct {
	TxID TxID
}

func (p *Ping) MarshalPairMessage() []byte {
	return slices.Concat(header(PingMessage), p.TxID[:])
}

func (p *Ping) Debug() string {
	return fmt.Sprintf("ping tx=%x", p.TxID)
}

type Pong struct {
	TxID TxID
}

func (p *Pong) MarshalPairMessage() []byte {
	return slices.Concat(header(PongMessage), p.TxID[:])
}

func (p *Pong) Debug() string {
	return fmt.Sprintf("pong tx=%x", p.TxID)
}
