package peer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	a := NewID()
	b := NewID()

	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, len(a), MaxIDLen)

	_, err := ParseID(a.String())
	assert.NoError(t, err, "generated ids must be valid")
}

func TestParseID(t *testing.T) {
	id, err := ParseID("kitchen-tablet")
	assert.NoError(t, err)
	assert.Equal(t, ID("kitchen-tablet"), id)

	for _, bad := range []string{"", "has.dot", "has space", strings.Repeat("x", MaxIDLen+1)} {
		_, err := ParseID(bad)
		assert.Error(t, err, "expected %q to be refused", bad)
	}
}

func TestIDOrderAndShort(t *testing.T) {
	assert.True(t, ID("a").Less("b"))
	assert.False(t, ID("b").Less("a"))

	assert.Equal(t, "01234567", ID("0123456789").Short())
	assert.Equal(t, "abc", ID("abc").Short())
}
