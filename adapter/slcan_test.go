package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSLCanDecodeFrame(t *testing.T) {
	sl := &SLCan{}

	f, err := sl.decodeFrame([]byte("t7E8403430104"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7E8), f.Identifier)
	assert.Equal(t, []byte{0x03, 0x43, 0x01, 0x04}, f.Data)
	assert.False(t, f.Extended)

	f, err = sl.decodeFrame([]byte("T18DB33F120103"))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x18DB33F1), f.Identifier)
	assert.Equal(t, []byte{0x01, 0x03}, f.Data)
	assert.True(t, f.Extended)

	_, err = sl.decodeFrame([]byte("t7E"))
	assert.Error(t, err)
}
