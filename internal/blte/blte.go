// Package blte parses and decodes BLTE-framed blobs: a payload prefixed by
// "BLTE", an optional chunk table, and one or more compression-tagged
// frames.
package blte

import (
	"encoding/binary"

	"github.com/kestrelgames/cask/internal/hashkey"
)

const frameDescriptorSize = 4 + 4 + hashkey.HashSize

// parsedHeader is the outcome of reading the "BLTE" magic and header.
type parsedHeader struct {
	implicit   bool // header_size == 0: a single frame with no checksum
	headerSize int64
	frames     []FrameDescriptor
}

// FrameDescriptor is one entry of the BLTE frame table.
type FrameDescriptor struct {
	EncodedSize uint32
	DecodedSize uint32
	Checksum    hashkey.Hash
}

// parseHeader decodes the BLTE magic and, if present, the frame table, from
// the start of payload (the bytes immediately following the archive record
// header).
func parseHeader(payload []byte) (parsedHeader, error) {
	if len(payload) < 8 {
		return parsedHeader{}, ErrTruncated
	}
	if string(payload[:4]) != "BLTE" {
		return parsedHeader{}, &InvalidSignatureError{Actual: string(payload[:4]), Expected: "BLTE"}
	}

	headerSize := binary.BigEndian.Uint32(payload[4:8])
	if headerSize == 0 {
		return parsedHeader{implicit: true}, nil
	}

	if len(payload) < 12 {
		return parsedHeader{}, ErrTruncated
	}
	frameCount, err := hashkey.ReadUint24BE(payload[9:12])
	if err != nil {
		return parsedHeader{}, err
	}

	cursor := 12
	frames := make([]FrameDescriptor, frameCount)
	for i := range frames {
		if cursor+frameDescriptorSize > len(payload) {
			return parsedHeader{}, ErrTruncated
		}
		frames[i].EncodedSize = binary.BigEndian.Uint32(payload[cursor:])
		frames[i].DecodedSize = binary.BigEndian.Uint32(payload[cursor+4:])
		copy(frames[i].Checksum[:], payload[cursor+8:cursor+8+hashkey.HashSize])
		cursor += frameDescriptorSize
	}

	if int64(cursor) != 8+int64(headerSize) {
		return parsedHeader{}, ErrTruncated
	}

	return parsedHeader{headerSize: int64(headerSize), frames: frames}, nil
}
