package key

import (
	"encoding"
)

type key interface {
	IsZero() bool
}

type canTextMarshal interface {
	// Session keys travel as text in discovery TXT records.

	encoding.TextMarshaler
	encoding.TextUnmarshaler
}

type publicKey interface {
	key

	Debug() string
	HexString() string
}

type privateKey[Pub key] interface {
	key

	Public() Pub
}

type createSharedKey[Pub publicKey, Priv privateKey[Pub], Shared sharedKey[Pub, Priv]] interface {
	Shared(Pub) Shared
}

type sharedKey[Pub publicKey, Priv privateKey[Pub]] interface {
	key

	Seal(cleartext []byte) (ciphertext []byte)

	Open(ciphertext []byte) (cleartext []byte, ok bool)
}
