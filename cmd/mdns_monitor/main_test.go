package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"
)

func query(t *testing.T, name string, qu bool) []byte {
	class := dnsmessage.ClassINET
	if qu {
		class |= dnsmessage.Class(quBit)
	}

	msg := dnsmessage.Message{Questions: []dnsmessage.Question{{
		Name:  dnsmessage.MustNewName(name),
		Type:  dnsmessage.TypePTR,
		Class: class,
	}}}

	pkt, err := msg.Pack()
	require.NoError(t, err)
	return pkt
}

func TestPrintQueries(t *testing.T) {
	var out bytes.Buffer

	printPacket(&out, "pairsync", false, "10.0.0.2:5353", query(t, "_pairsync._tcp.local.", true))
	printPacket(&out, "pairsync", false, "10.0.0.3:5353", query(t, "_airplay._tcp.local.", false))
	printPacket(&out, "pairsync", false, "10.0.0.4:5353", []byte("garbage"))

	assert.Equal(t, "10.0.0.2:5353 QU query _pairsync._tcp.local.\n", out.String())

	out.Reset()
	printPacket(&out, "pairsync", true, "10.0.0.3:5353", query(t, "_airplay._tcp.local.", false))
	assert.Equal(t, "10.0.0.3:5353 QM query _airplay._tcp.local.\n", out.String())
}

func TestDataHashStable(t *testing.T) {
	assert.Equal(t, dataToB64Hash([]byte("a")), dataToB64Hash([]byte("a")))
	assert.NotEqual(t, dataToB64Hash([]byte("a")), dataToB64Hash([]byte("b")))
}
