package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// SegmentKind is the type byte stored in a frame header.
type SegmentKind byte

const (
	SegmentText   SegmentKind = 0
	SegmentBinary SegmentKind = 1
)

// Frame layout: [count:1] then count * [kind:1][offset:4 LE], then payloads.
const (
	countSize       = 1
	headerEntrySize = 5
)

// errorMarker is the single text segment of an interpretation error result.
const errorMarker = "ERROR"

// ErrTooManySegments is returned when a command does not fit in one frame header.
var ErrTooManySegments = errors.New("too many segments for one frame")

// Segment is one element of a command: UTF-8 text or an opaque byte buffer.
type Segment struct {
	kind SegmentKind
	text string
	data []byte
}

// Text creates a text segment.
func Text(s string) Segment {
	return Segment{kind: SegmentText, text: s}
}

// Binary creates a binary segment. The buffer is not copied.
func Binary(b []byte) Segment {
	return Segment{kind: SegmentBinary, data: b}
}

// Kind returns the segment type.
func (s Segment) Kind() SegmentKind { return s.kind }

// IsText reports whether the segment carries text.
func (s Segment) IsText() bool { return s.kind == SegmentText }

// String returns the text of a text segment, or the bytes interpreted as UTF-8.
func (s Segment) String() string {
	if s.kind == SegmentText {
		return s.text
	}
	return string(s.data)
}

// Bytes returns the payload bytes of the segment.
func (s Segment) Bytes() []byte {
	if s.kind == SegmentText {
		return []byte(s.text)
	}
	return s.data
}

// Len returns the encoded payload length.
func (s Segment) Len() int {
	if s.kind == SegmentText {
		return len(s.text)
	}
	return len(s.data)
}

// Equal compares kind and payload.
func (s Segment) Equal(o Segment) bool {
	if s.kind != o.kind {
		return false
	}
	if s.kind == SegmentText {
		return s.text == o.text
	}
	return bytes.Equal(s.data, o.data)
}

// Command is an immutable ordered list of segments.
type Command struct {
	segments []Segment
}

// NewCommand builds a command from segments.
func NewCommand(segments ...Segment) Command {
	cp := make([]Segment, len(segments))
	copy(cp, segments)
	return Command{segments: cp}
}

// Texts builds a command made only of text segments.
func Texts(parts ...string) Command {
	segs := make([]Segment, len(parts))
	for i, p := range parts {
		segs[i] = Text(p)
	}
	return Command{segments: segs}
}

// InterpretationError is the result of decoding an invalid frame.
func InterpretationError() Command {
	return Texts(errorMarker)
}

// IsError reports whether the command is the interpretation error result.
func (c Command) IsError() bool {
	return len(c.segments) == 1 && c.segments[0].kind == SegmentText && c.segments[0].text == errorMarker
}

// Len returns the number of segments.
func (c Command) Len() int { return len(c.segments) }

// Segment returns the i-th segment.
func (c Command) Segment(i int) Segment { return c.segments[i] }

// Segments returns a copy of all segments.
func (c Command) Segments() []Segment {
	cp := make([]Segment, len(c.segments))
	copy(cp, c.segments)
	return cp
}

// Category returns the first segment as text, or "" if absent.
func (c Command) Category() string {
	if len(c.segments) < 1 {
		return ""
	}
	return c.segments[0].String()
}

// Action returns the second segment as text, or "" if absent.
func (c Command) Action() string {
	if len(c.segments) < 2 {
		return ""
	}
	return c.segments[1].String()
}

// Params returns the segments after category and action.
func (c Command) Params() []Segment {
	if len(c.segments) <= 2 {
		return nil
	}
	return c.segments[2:]
}

// Param returns the i-th parameter.
func (c Command) Param(i int) (Segment, bool) {
	params := c.Params()
	if i < 0 || i >= len(params) {
		return Segment{}, false
	}
	return params[i], true
}

// String renders the command for logging; binary segments show their size only.
func (c Command) String() string {
	var b bytes.Buffer
	for i, s := range c.segments {
		if i > 0 {
			b.WriteByte('/')
		}
		if s.kind == SegmentText {
			b.WriteString(s.text)
		} else {
			fmt.Fprintf(&b, "<%d bytes>", len(s.data))
		}
	}
	return b.String()
}

// Encode serializes a command into a frame.
func Encode(c Command) ([]byte, error) {
	n := len(c.segments)
	if n > MaxSegments {
		return nil, fmt.Errorf("%w: %d", ErrTooManySegments, n)
	}

	headerLen := countSize + headerEntrySize*n
	b := NewPacketBuilder()
	b.WriteUint8(uint8(n))

	offset := headerLen
	for _, s := range c.segments {
		b.WriteUint8(uint8(s.kind))
		b.WriteUint32(uint32(offset))
		offset += s.Len()
	}
	for _, s := range c.segments {
		b.WriteBytes(s.Bytes())
	}
	return b.Build(), nil
}

// Decode parses a frame. It never fails: any malformed frame yields
// InterpretationError().
func Decode(frame []byte) Command {
	if len(frame) < countSize {
		return InterpretationError()
	}

	n := int(frame[0])
	if n == 0 {
		return InterpretationError()
	}

	headerLen := countSize + headerEntrySize*n
	if len(frame) < headerLen {
		return InterpretationError()
	}

	segments := make([]Segment, n)
	for i := 0; i < n; i++ {
		entry := frame[countSize+headerEntrySize*i:]
		kind := SegmentKind(entry[0])
		start := int(binary.LittleEndian.Uint32(entry[1:5]))

		end := len(frame)
		if i+1 < n {
			next := frame[countSize+headerEntrySize*(i+1):]
			end = int(binary.LittleEndian.Uint32(next[1:5]))
		}

		if start < headerLen || start > len(frame) || end > len(frame) || end <= start {
			return InterpretationError()
		}

		payload := frame[start:end]
		switch kind {
		case SegmentText:
			segments[i] = Text(string(payload))
		case SegmentBinary:
			data := make([]byte, len(payload))
			copy(data, payload)
			segments[i] = Binary(data)
		default:
			return InterpretationError()
		}
	}

	return Command{segments: segments}
}
