// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package sasl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// split divides a packet the way a well-behaved relay does.
func split(packet string, terminator string) (chunks []string) {
	for len(packet) >= ChunkSize {
		chunks = append(chunks, packet[:ChunkSize])
		packet = packet[ChunkSize:]
	}
	if packet != "" || len(chunks) != 0 {
		if packet == "" {
			packet = terminator
		}
		chunks = append(chunks, packet)
	}
	return
}

func TestReassembly(t *testing.T) {
	for _, length := range []int{1, 60, 399, 400, 401, 800, 5000, 8000} {
		for _, terminator := range []string{"", "+"} {
			payload := strings.Repeat("QUJD", length/4+1)[:length]
			chunks := split(payload, terminator)

			s := &Session{}
			for i, chunk := range chunks {
				packet, complete, err := s.appendChunk(chunk)
				require.NoError(t, err)
				if i < len(chunks)-1 {
					assert.False(t, complete, "length %d chunk %d", length, i)
					continue
				}
				require.True(t, complete, "length %d", length)
				assert.Equal(t, payload, string(packet), "length %d", length)
			}
			assert.Nil(t, s.buf)
		}
	}
}

func TestReassemblyEmptyPacket(t *testing.T) {
	s := &Session{}
	packet, complete, err := s.appendChunk("")
	require.NoError(t, err)
	assert.True(t, complete)
	assert.NotNil(t, packet)
	assert.Len(t, packet, 0)

	packet, complete, err = s.appendChunk("+")
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Equal(t, "+", string(packet))
}

func TestReassemblyCeiling(t *testing.T) {
	s := &Session{}
	chunk := strings.Repeat("A", ChunkSize)
	var err error
	for i := 0; i <= MaxBufferLen/ChunkSize && err == nil; i++ {
		_, _, err = s.appendChunk(chunk)
	}
	assert.Equal(t, errBufferTooLong, err)
	assert.Nil(t, s.buf)

	// a short final chunk that would cross the ceiling is refused too
	s = &Session{}
	for i := 0; i < MaxBufferLen/ChunkSize; i++ {
		_, _, err = s.appendChunk(chunk)
		require.NoError(t, err)
	}
	_, _, err = s.appendChunk(strings.Repeat("A", MaxBufferLen%ChunkSize+1))
	assert.Equal(t, errBufferTooLong, err)
}

func TestDecodePacket(t *testing.T) {
	result, err := decodePacket([]byte("+"))
	require.NoError(t, err)
	assert.Equal(t, []byte{}, result)

	result, err = decodePacket([]byte("AGFsaWNlAHNlY3JldA=="))
	require.NoError(t, err)
	assert.Equal(t, "\x00alice\x00secret", string(result))

	_, err = decodePacket([]byte("not*base64"))
	assert.Equal(t, errInvalidBase64, err)
}
