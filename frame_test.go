package squall

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameRoundTrip(t *testing.T) {
	frames := []*Frame{
		TextFrame("hello"),
		TextFrame(""),
		BinaryFrame([]byte{0x00, 0x01, 0x02}),
		PingFrame([]byte("ping")),
		PongFrame(nil),
		CloseFrame(),
	}
	for _, f := range frames {
		parsed, err := parseFrame(f.serialize())
		assert.NoError(t, err)
		assert.Equal(t, f.OpCode, parsed.OpCode)
		assert.Equal(t, f.Message.Kind, parsed.Message.Kind)
		assert.Equal(t, f.Message.Text(), parsed.Message.Text())
	}
}

func TestFrameRoundTripMasked(t *testing.T) {
	f := TextFrame("masked payload").Masked()
	b := f.serialize()

	// The mask bit is set and the payload on the wire differs from the
	// plain text.
	assert.NotZero(t, b[1]&0x80)
	assert.False(t, bytes.Contains(b, []byte("masked payload")))

	parsed, err := parseFrame(b)
	assert.NoError(t, err)
	assert.Equal(t, "masked payload", parsed.Message.Text())
}

func TestFrameLengthEncodings(t *testing.T) {
	for _, n := range []int{0, 125, 126, 65535, 65536} {
		f := BinaryFrame(bytes.Repeat([]byte{0xAB}, n))
		b := f.serialize()

		switch {
		case n <= 125:
			assert.Equal(t, byte(n), b[1]&0x7f, n)
		case n <= 65535:
			assert.Equal(t, byte(126), b[1]&0x7f, n)
			assert.Equal(t, uint16(n), binary.BigEndian.Uint16(b[2:4]), n)
		default:
			assert.Equal(t, byte(127), b[1]&0x7f, n)
			assert.Equal(t, uint64(n), binary.BigEndian.Uint64(b[2:10]), n)
		}

		parsed, err := parseFrame(b)
		assert.NoError(t, err)
		assert.Len(t, parsed.Message.Data, n)
	}
}

func TestFrameParseEightByteLengthHeader(t *testing.T) {
	// A frame announcing a 2^32-byte payload parses as incomplete with the
	// full expected size, without anyone allocating 4 GiB.
	b := []byte{frameFinRSV | OpCodeBinary, 127}
	b = binary.BigEndian.AppendUint64(b, 1<<32)

	_, err := parseFrame(b)

	var incomplete *IncompleteError
	assert.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 10+1<<32, incomplete.Expected)
}

func TestFrameParseErrors(t *testing.T) {
	_, err := parseFrame(nil)
	assert.Equal(t, errNullContent, err)

	// FIN unset.
	_, err = parseFrame([]byte{0x01, 0x00})
	assert.Equal(t, errWrongFinRSV, err)

	// RSV bits set.
	_, err = parseFrame([]byte{0xF1, 0x00})
	assert.Equal(t, errWrongFinRSV, err)

	// Two-byte length form with a truncated header.
	_, err = parseFrame([]byte{0x81, 126, 0x00})
	assert.Equal(t, errMalformed, err)

	// Eight-byte length form with a truncated header.
	_, err = parseFrame([]byte{0x81, 127, 0x00, 0x00})
	assert.Equal(t, errMalformed, err)

	// Masked frame with a truncated masking key.
	_, err = parseFrame([]byte{0x81, 0x85, 0x01, 0x02})
	assert.Equal(t, errMalformed, err)

	// Header complete, payload missing.
	_, err = parseFrame([]byte{0x81, 0x05, 'h', 'i'})
	var incomplete *IncompleteError
	assert.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 7, incomplete.Expected)

	// Reserved opcode 0x3.
	_, err = parseFrame([]byte{0x83, 0x00})
	assert.Equal(t, errUnsupportedOpCode, err)

	// Text frame with broken UTF-8.
	_, err = parseFrame([]byte{0x81, 0x01, 0xFF})
	assert.Equal(t, errInvalidUTF8, err)
}

func TestFrameParseUnmasksPayload(t *testing.T) {
	payload := []byte("abcd")
	key := []byte{0x10, 0x20, 0x30, 0x40}

	b := []byte{frameFinRSV | OpCodeText, 0x80 | byte(len(payload))}
	b = append(b, key...)
	for i, v := range payload {
		b = append(b, v^key[i%4])
	}

	parsed, err := parseFrame(b)
	assert.NoError(t, err)
	assert.Equal(t, "abcd", parsed.Message.Text())
}

func TestFrameIsClose(t *testing.T) {
	assert.True(t, CloseFrame().IsClose())
	assert.False(t, TextFrame("x").IsClose())
	assert.True(t, strings.HasPrefix(string(CloseFrame().serialize()), string([]byte{0x88})))
}
