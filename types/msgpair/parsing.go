package msgpair

import (
	"errors"
	"fmt"
	"slices"
)

var errTooSmall = errors.New("pair message too small")

func ParsePairMessage(usrMsg []byte) (PairMessage, error) {
	if len(usrMsg) < 2 {
		return nil, errTooSmall
	}

	version := usrMsg[0]
	msgType := usrMsg[1]

	specificMsg := usrMsg[2:]

	if VersionMarker(version) != v1 {
		return nil, fmt.Errorf("invalid version: %x", version)
	}

	switch MessageType(msgType) {
	case InviteMessage:
		return &Invite{}, nil
	case AcceptMessage:
		return &Accept{}, nil
	case RejectMessage:
		return &Reject{}, nil
	case ByeMessage:
		return &Bye{}, nil
	case DataMessage:
		return &Data{Payload: slices.Clone(specificMsg)}, nil
	case PingMessage:
		if len(specificMsg) < len(TxID{}) {
			return nil, errTooSmall
		}
		return &Ping{TxID: TxID(specificMsg[:12])}, nil
	case PongMessage:
		if len(specificMsg) < len(TxID{}) {
			return nil, errTooSmall
		}
		return &Pong{TxID: TxID(specificMsg[:12])}, nil
	default:
		return nil, fmt.Errorf("invalid message type: %x", msgType)
	}
}
