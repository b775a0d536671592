// Package xsp implements the encrypted segmented-byte object format
// (§4.D): a (header, segments) pair where the header carries the 0th
// segment nonce and segment size, and each segment is an independently
// authenticated-encrypted block.
package xsp

import (
	"encoding/binary"
	"fmt"
)

// Format tags a header declares for its payload layout.
type Format byte

const (
	// FormatPlain is plain content bytes with no attributes section.
	FormatPlain Format = 1
	// FormatWithAttrs is an attributes-length-prefixed section
	// followed by attribute bytes, then content bytes.
	FormatWithAttrs Format = 2
)

// CurrentVersion is the XSP segment format version writers always emit.
const CurrentVersion byte = 2

// DefaultSegmentSize is the segment size (4 KiB) used unless a caller
// specifies otherwise.
const DefaultSegmentSize uint32 = 4096

const headerLen = 1 + 1 + 8 + NonceSize + 4 // formatVersion, payloadFormat, objVersion, n0, segSize

// Header carries the encryption parameters for an XSP object.
type Header struct {
	FormatVersion byte   // the XSP segment format version (always CurrentVersion on write)
	PayloadFormat Format // FormatPlain or FormatWithAttrs
	ObjVersion    uint64 // the object's current version, monotonically non-decreasing
	N0            [NonceSize]byte
	SegSize       uint32
}

// ErrUnknownFormat is returned by DecodeHeader when the header's format byte
// is not one this codec understands; readers must refuse such headers
// rather than guess.
var ErrUnknownFormat = fmt.Errorf("xsp: unknown header format")

// Encode serializes h to its on-disk/on-wire binary form.
func (h Header) Encode() []byte {
	buf := make([]byte, headerLen)
	buf[0] = h.FormatVersion
	buf[1] = byte(h.PayloadFormat)
	binary.BigEndian.PutUint64(buf[2:10], h.ObjVersion)
	copy(buf[10:10+NonceSize], h.N0[:])
	binary.BigEndian.PutUint32(buf[10+NonceSize:], h.SegSize)
	return buf
}

// DecodeHeader parses a Header from its binary form, refusing any
// unrecognized format version or payload format.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < headerLen {
		return Header{}, fmt.Errorf("xsp: short header (%d bytes)", len(b))
	}
	h := Header{
		FormatVersion: b[0],
		PayloadFormat: Format(b[1]),
		ObjVersion:    binary.BigEndian.Uint64(b[2:10]),
		SegSize:       binary.BigEndian.Uint32(b[10+NonceSize:]),
	}
	copy(h.N0[:], b[10:10+NonceSize])
	if h.FormatVersion != CurrentVersion {
		return Header{}, ErrUnknownFormat
	}
	if h.PayloadFormat != FormatPlain && h.PayloadFormat != FormatWithAttrs {
		return Header{}, ErrUnknownFormat
	}
	if h.SegSize == 0 {
		return Header{}, fmt.Errorf("xsp: zero segment size")
	}
	return h, nil
}

// HeaderLen returns the encoded length of a Header, for callers that
// need to frame header+segments in a single byte stream.
func HeaderLen() int { return headerLen }
