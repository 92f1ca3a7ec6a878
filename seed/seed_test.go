package seed_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/firasghr/GoPersonaEngine/seed"
)

func TestNew_HexUUID(t *testing.T) {
	s := seed.New()
	assert.Len(t, s, 32)
	assert.NotContains(t, s, "-")
	assert.NotEqual(t, s, seed.New())
}

func TestDigest_KnownValue(t *testing.T) {
	// md5("") = d41d8cd98f00b204e9800998ecf8427e
	assert.Equal(t, uint32(0xd41d8cd9), seed.Digest(""))
	assert.Equal(t, seed.Digest("a|b|c"), seed.Derive("a", "b", "c"))
}

func TestStreams_Deterministic(t *testing.T) {
	a, b := seed.Session("s1"), seed.Session("s1")
	for i := 0; i < 16; i++ {
		assert.Equal(t, a.Uint64(), b.Uint64())
	}
}

func TestMetadata_IndependentOfSelection(t *testing.T) {
	sel := seed.Derive("s1", "Win32", "a.woff2")
	s1, m1 := seed.Stream(sel), seed.Metadata(sel)
	assert.NotEqual(t, s1.Uint64(), m1.Uint64())

	// Draining the selection stream does not move a fresh metadata stream.
	s2 := seed.Stream(sel)
	for i := 0; i < 100; i++ {
		s2.IntN(10)
	}
	m2 := seed.Metadata(sel)
	m1 = seed.Metadata(sel)
	assert.Equal(t, m1.Uint64(), m2.Uint64())
}
