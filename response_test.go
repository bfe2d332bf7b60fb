package squall

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseSerialize(t *testing.T) {
	b := Ok().String("hello").serialize()
	s := string(b)

	assert.True(t, strings.HasPrefix(s, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, s, "Content-Length: 5\r\n")
	assert.True(t, strings.HasSuffix(s, "\r\n\r\nhello"))
}

func TestResponseSerializeKeepsContentLength(t *testing.T) {
	res := Ok().Header("Content-Length", "99").String("short")
	s := string(res.serialize())

	assert.Contains(t, s, "Content-Length: 99\r\n")
	assert.NotContains(t, s, "Content-Length: 5\r\n")
}

func TestResponseSerializeInterim(t *testing.T) {
	s := string(Continue().serialize())
	assert.True(t, strings.HasPrefix(s, "HTTP/1.1 100 Continue\r\n"))
	assert.NotContains(t, s, "Content-Length")
}

func TestResponseRoundTrip(t *testing.T) {
	res := NewResponse(201).
		Header("X-One", "1").
		Header("X-Many", "a").
		Header("X-Many", "b").
		Body([]byte("created"))

	parsed, err := parseResponse(res.serialize())
	assert.NoError(t, err)
	assert.Equal(t, 201, parsed.Status)
	assert.Equal(t, "Created", parsed.Reason)
	assert.Equal(t, []string{"1"}, parsed.Headers.Values("X-One"))
	assert.Equal(t, []string{"a", "b"}, parsed.Headers.Values("X-Many"))
	assert.Equal(t, []byte("created"), parsed.Content)
}

func TestResponseRoundTripMultiWordReason(t *testing.T) {
	parsed, err := parseResponse(InternalServerError().serialize())
	assert.NoError(t, err)
	assert.Equal(t, 500, parsed.Status)
	assert.Equal(t, "Internal Server Error", parsed.Reason)
}

func TestResponseJSON(t *testing.T) {
	res := Ok().JSON(map[string]int{"n": 7})
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, `{"n":7}`, string(res.Content))
	assert.Contains(t, res.Headers.Get("Content-Type"), "application/json")
}

func TestParseResponseErrors(t *testing.T) {
	_, err := parseResponse([]byte("HTTP/1.1 200 OK\r\n"))
	assert.Error(t, err)

	_, err = parseResponse([]byte("HTTP/1.1 abc OK\r\n\r\n"))
	assert.Error(t, err)

	_, err = parseResponse([]byte("HTTP/1.1\r\n\r\n"))
	assert.Error(t, err)
}
