package xsp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/3nsoft-go/asmail-core/xcrypto"
)

// Object is a fully opened XSP object: its header plus the decrypted
// attrs (if the payload format carries them) and content bytes.
type Object struct {
	Header  Header
	Attrs   []byte
	Content []byte
}

// Open decrypts and parses an XSP object from its header and segment
// bytes under fileKey. Open refuses any header whose format tag is
// unknown (DecodeHeader already enforces this).
func Open(fileKey [32]byte, cryptor xcrypto.Cryptor, headerBytes, segmentBytes []byte) (*Object, error) {
	h, err := DecodeHeader(headerBytes)
	if err != nil {
		return nil, err
	}

	payload, err := decryptSegments(fileKey, cryptor, h, segmentBytes)
	if err != nil {
		return nil, err
	}

	obj := &Object{Header: h}
	switch h.PayloadFormat {
	case FormatPlain:
		obj.Content = payload
	case FormatWithAttrs:
		if len(payload) < 8 {
			return nil, fmt.Errorf("xsp: payload too short for attrs length prefix")
		}
		attrsLen := binary.BigEndian.Uint64(payload[:8])
		if uint64(len(payload)-8) < attrsLen {
			return nil, fmt.Errorf("xsp: attrs length %d exceeds payload", attrsLen)
		}
		obj.Attrs = payload[8 : 8+attrsLen]
		obj.Content = payload[8+attrsLen:]
	default:
		return nil, ErrUnknownFormat
	}
	return obj, nil
}

func decryptSegments(fileKey [32]byte, cryptor xcrypto.Cryptor, h Header, segmentBytes []byte) ([]byte, error) {
	var out []byte
	var idx uint64
	for off := 0; off < len(segmentBytes); idx++ {
		if off+4 > len(segmentBytes) {
			return nil, fmt.Errorf("xsp: truncated segment length prefix")
		}
		segLen := int(binary.BigEndian.Uint32(segmentBytes[off : off+4]))
		off += 4
		if off+segLen > len(segmentBytes) {
			return nil, fmt.Errorf("xsp: truncated segment body")
		}
		ciphertext := segmentBytes[off : off+segLen]
		off += segLen

		nonce := CalculateNonce(h.N0, idx)
		plain, err := cryptor.Open(fileKey, nonce, ciphertext)
		if err != nil {
			return nil, fmt.Errorf("xsp: segment %d: %w", idx, err)
		}
		out = append(out, plain...)
	}
	return out, nil
}

// ReadBytes returns content[start:end], clamping both ends to
// [0, len(content)] and returning nil if start >= size or end <= start
// (§4.E file.readBytes).
func (o *Object) ReadBytes(start, end int64) []byte {
	size := int64(len(o.Content))
	if start < 0 {
		start = 0
	}
	if end > size {
		end = size
	}
	if start >= size || end <= start {
		return nil
	}
	return o.Content[start:end]
}

// Sink is the write side of an XSP object: {setSize, writeAttrs,
// write, spliceLayout, done} (§4.D). A Sink is single-use: call Done
// once all writes are complete.
type Sink struct {
	fileKey [32]byte
	cryptor xcrypto.Cryptor
	segSize uint32
	n0      [NonceSize]byte
	version uint64

	attrs       []byte
	hasAttrs    bool
	rawSink     []byte
	layout      Layout
	sizeHint    int64
	sizeHintSet bool
}

// NewSink starts a fresh object: a new random nonce and version 1.
func NewSink(fileKey [32]byte, cryptor xcrypto.Cryptor, segSize uint32) (*Sink, error) {
	if segSize == 0 {
		segSize = DefaultSegmentSize
	}
	var n0 [NonceSize]byte
	if _, err := rand.Read(n0[:]); err != nil {
		return nil, err
	}
	return &Sink{fileKey: fileKey, cryptor: cryptor, segSize: segSize, n0: n0, version: 1}, nil
}

// NewUpdateSink starts a sink that updates base, reusing its nonce but
// deriving a new effective base nonce for newVersion and carrying the
// base's existing content forward so in-place writes can be sparse.
// Callers obtain base via Open, which already proves fileKey matches
// the base object — an update sink cannot be created from a base that
// decrypted under a different key, satisfying the writer's "same file
// key" invariant by construction.
func NewUpdateSink(fileKey [32]byte, cryptor xcrypto.Cryptor, base *Object, newVersion uint64) *Sink {
	n0 := CalculateNonce(base.Header.N0, newVersion)
	s := &Sink{
		fileKey: fileKey,
		cryptor: cryptor,
		segSize: base.Header.SegSize,
		n0:      n0,
		version: newVersion,
		rawSink: append([]byte(nil), base.Content...),
		layout:  Layout{{Ofs: 0, Len: int64(len(base.Content)), OfsInRawSink: 0}},
	}
	if base.Attrs != nil {
		s.attrs = append([]byte(nil), base.Attrs...)
		s.hasAttrs = true
	}
	return s
}

// SetSize truncates or zero-extends the object's logical content to n
// bytes.
func (s *Sink) SetSize(n int64) {
	cur := s.logicalSize()
	if n == cur {
		return
	}
	if n < cur {
		s.layout = s.layout.Splice(n, cur-n, nil)
		return
	}
	s.layout = s.layout.Splice(cur, 0, Layout{{Len: n - cur, OfsInRawSink: sentinelRaw}})
}

// WriteAttrs sets the object's attribute bytes, switching the payload
// format to FormatWithAttrs.
func (s *Sink) WriteAttrs(attrs []byte) {
	s.attrs = attrs
	s.hasAttrs = true
}

// Write overwrites len(bytes) logical bytes starting at ofs, extending
// the object if ofs+len(bytes) exceeds the current size.
func (s *Sink) Write(ofs int64, bytes []byte) {
	cur := s.logicalSize()
	del := int64(len(bytes))
	if ofs+del > cur {
		del = cur - ofs
		if del < 0 {
			del = 0
		}
	}
	s.SpliceLayout(ofs, del, bytes)
}

// SpliceLayout removes del logical bytes at ofs and inserts ins in
// their place, appending ins to the object's raw sink.
func (s *Sink) SpliceLayout(ofs, del int64, ins []byte) {
	cur := s.logicalSize()
	if ofs > cur {
		s.SetSize(ofs)
		cur = ofs
	}
	rawOfs := int64(len(s.rawSink))
	s.rawSink = append(s.rawSink, ins...)
	s.layout = s.layout.Splice(ofs, del, Layout{{Len: int64(len(ins)), OfsInRawSink: rawOfs}})
}

func (s *Sink) logicalSize() int64 {
	if len(s.layout) == 0 {
		return 0
	}
	return s.layout.Size()
}

// materialize walks the layout, resolving holes to zero bytes, and
// returns the final logical content plus whether the layout is
// trivial (and therefore omitted from attrs in favor of a plain size).
func (s *Sink) materialize() ([]byte, bool) {
	out := make([]byte, 0, s.logicalSize())
	for _, sec := range s.layout {
		if sec.OfsInRawSink == sentinelRaw {
			out = append(out, make([]byte, sec.Len)...)
			continue
		}
		out = append(out, s.rawSink[sec.OfsInRawSink:sec.OfsInRawSink+sec.Len]...)
	}
	return out, s.layout.IsTrivial() || len(s.layout) == 0
}

// Done seals the object and returns its header and segment bytes.
func (s *Sink) Done() (headerBytes, segmentBytes []byte, err error) {
	content, _ := s.materialize()

	var payload []byte
	format := FormatPlain
	if s.hasAttrs {
		format = FormatWithAttrs
		lenPrefix := make([]byte, 8)
		binary.BigEndian.PutUint64(lenPrefix, uint64(len(s.attrs)))
		payload = append(payload, lenPrefix...)
		payload = append(payload, s.attrs...)
	}
	payload = append(payload, content...)

	h := Header{
		FormatVersion: CurrentVersion,
		PayloadFormat: format,
		ObjVersion:    s.version,
		N0:            s.n0,
		SegSize:       s.segSize,
	}

	segments, err := encryptSegments(s.fileKey, s.cryptor, h, payload)
	if err != nil {
		return nil, nil, err
	}
	return h.Encode(), segments, nil
}

// Layout returns the sink's current section layout, for callers that
// need to decide whether it is trivial enough to omit from a node's
// attrs (§3 File layout).
func (s *Sink) Layout() Layout { return s.layout }

func encryptSegments(fileKey [32]byte, cryptor xcrypto.Cryptor, h Header, payload []byte) ([]byte, error) {
	var out []byte
	segSize := int(h.SegSize)
	if segSize == 0 {
		segSize = int(DefaultSegmentSize)
	}

	segCount := (len(payload) + segSize - 1) / segSize
	if segCount == 0 {
		segCount = 1 // always emit at least one (possibly empty) segment
	}
	for i := 0; i < segCount; i++ {
		start := i * segSize
		end := start + segSize
		if end > len(payload) {
			end = len(payload)
		}
		nonce := CalculateNonce(h.N0, uint64(i))
		ciphertext := cryptor.Seal(fileKey, nonce, payload[start:end])

		lenPrefix := make([]byte, 4)
		binary.BigEndian.PutUint32(lenPrefix, uint32(len(ciphertext)))
		out = append(out, lenPrefix...)
		out = append(out, ciphertext...)
	}
	return out, nil
}
