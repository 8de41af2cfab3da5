// Copyright (c) 2026 the saslserv contributors
// released under the MIT license

package sasl

import (
	"encoding/base64"
)

const (
	// ChunkSize is the relay chunk length; a chunk of exactly this many
	// bytes means more of the same packet follows.
	ChunkSize = 400
	// MaxBufferLen bounds the reassembled size of one packet.
	MaxBufferLen = 8192
	// MaxMechanismNameLen bounds the mechanism name sent by the client.
	MaxMechanismNameLen = 60
)

// appendChunk adds one relayed chunk to the session's reassembly buffer.
// When the chunk completes a packet, the whole packet is returned and the
// buffer is reset.
func (s *Session) appendChunk(data string) (packet []byte, complete bool, err error) {
	// after a run of exactly-400-byte chunks, the end of the packet is
	// signaled by an empty chunk or by "+"; neither is payload
	terminator := len(s.buf) != 0 && (data == "" || data == "+")
	if !terminator {
		if len(s.buf)+len(data) > MaxBufferLen {
			s.buf = nil
			return nil, false, errBufferTooLong
		}
		s.buf = append(s.buf, data...)
	}

	if len(data) == ChunkSize {
		return nil, false, nil
	}

	packet = s.buf
	s.buf = nil
	if packet == nil {
		packet = []byte{}
	}
	return packet, true, nil
}

// decodePacket decodes a complete client response. A lone "+" stands for
// an empty response.
func decodePacket(packet []byte) (result []byte, err error) {
	if len(packet) == 1 && packet[0] == '+' {
		return []byte{}, nil
	}
	result = make([]byte, base64.StdEncoding.DecodedLen(len(packet)))
	n, err := base64.StdEncoding.Decode(result, packet)
	if err != nil {
		return nil, errInvalidBase64
	}
	return result[:n], nil
}
