package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashFromStr(t *testing.T) {
	h := RandHash()
	chk, err := HashFromStr(h.String())
	assert.NoError(t, err)
	assert.Equal(t, h, chk)

	_, err = HashFromStr("not-a-hash")
	assert.Error(t, err)
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "abcd", Shorten("abcd", 2))
	assert.Equal(t, "ab...ef", Shorten("abcdef0123ef", 2))
}

func TestMinMax(t *testing.T) {
	assert.Equal(t, uint64(1), MinUint64(1, 2))
	assert.Equal(t, uint64(2), MaxUint64(1, 2))
}
