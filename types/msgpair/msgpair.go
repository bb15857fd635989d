// Package msgpair contains the messages exchanged over a pairing session, their parsing,
// and the length-prefixed framing used on the stream.
//
// Every connection starts with a Hello in both directions, in the clear. All later frames
// are NaCl boxes (see key.SessionShared) around a PairMessage.
package msgpair

type PairMessage interface {
	MarshalPairMessage() []byte

	Debug() string
}

func header(t MessageType) []byte {
	return []byte{byte(v1), byte(t)}
}
