package msgpair

// Magic is the 8 byte header of every Hello
// "🤝📡"
// F0 9F A4 9D
// F0 9F 93 A1
const Magic = "\xF0\x9F\xA4\x9D\xF0\x9F\x93\xA1"

var MagicBytes = []byte(Magic)

type VersionMarker byte

const v1 = VersionMarker(0x1)

type MessageType byte

const (
	InviteMessage = MessageType(0x01)
	AcceptMessage = MessageType(0x02)
	RejectMessage = MessageType(0x03)
	DataMessage   = MessageType(0x04)
	ByeMessage    = MessageType(0x05)
	PingMessage   = MessageType(0x06)
	PongMessage   = MessageType(0x07)
)

const (
	// MaxPayload caps a single Data payload.
	MaxPayload = 64 * 1024

	// lengthPrefix is the size of the frame length header.
	lengthPrefix = 4
)
