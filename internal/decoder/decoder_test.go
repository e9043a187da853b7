package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitDepthCodec(t *testing.T) {
	cases := []struct {
		depth   BitDepth
		want    string
		wantErr bool
	}{
		{Bits8, "u8", false},
		{Bits16, "s16l", false},
		{Bits24, "s24l", false},
		{Bits32, "s32l", false},
		{BitDepth(12), "", true},
	}

	for _, c := range cases {
		got, err := c.depth.Codec()
		if c.wantErr {
			assert.Error(t, err)
			continue
		}
		assert.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "playing", StatePlaying.String())
	assert.Equal(t, "error", StateError.String())
}
