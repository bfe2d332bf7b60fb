package squall

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsTree() *pureBranch {
	return NewBranch("/api").
		With(MethodGet.To(stubHandler("api")).And(MethodPost)).
		purify()
}

func preflightRequest(t *testing.T, origin, path string) *Request {
	t.Helper()

	req := testRequest(t, MethodOptions, path)
	req.Headers.Add("Origin", origin)

	return req
}

func TestCORSBuilder(t *testing.T) {
	c, err := NewCORSBuilder().
		Origin("https://example.com").
		AllowedMethod(MethodGet).
		MaxAge(600).
		Build()
	assert.NoError(t, err)
	assert.NotNil(t, c)

	_, err = NewCORSBuilder().Origin("not a url at all\x00").Build()
	assert.Error(t, err)

	_, err = NewCORSBuilder().Origin("missing-scheme.com").Build()
	assert.Error(t, err)
}

func TestCORSPreflightAllowed(t *testing.T) {
	c, err := NewCORSBuilder().
		Origin("https://example.com").
		AllowedMethod(MethodGet).
		AllowedHeader("X-Token").
		MaxAge(600).
		Build()
	assert.NoError(t, err)

	res := c.preflight(preflightRequest(t, "https://example.com", "/api"), corsTree())
	assert.NotNil(t, res)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, "https://example.com", res.Headers.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET", res.Headers.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "X-Token", res.Headers.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "600", res.Headers.Get("Access-Control-Max-Age"))
}

func TestCORSPreflightForbidden(t *testing.T) {
	c, err := NewCORSBuilder().Origin("https://example.com").Build()
	assert.NoError(t, err)

	res := c.preflight(preflightRequest(t, "https://evil.test", "/api"), corsTree())
	assert.NotNil(t, res)
	assert.Equal(t, 403, res.Status)
}

func TestCORSPreflightDiscoversMethods(t *testing.T) {
	c, err := NewCORSBuilder().Origin("*").Build()
	assert.NoError(t, err)

	res := c.preflight(preflightRequest(t, "https://anything.test", "/api"), corsTree())
	assert.NotNil(t, res)
	assert.Equal(t, "*", res.Headers.Get("Access-Control-Allow-Origin"))

	allow := res.Headers.Get("Access-Control-Allow-Methods")
	assert.Contains(t, allow, "GET")
	assert.Contains(t, allow, "POST")
}

func TestCORSPreflightMirrorsHeaders(t *testing.T) {
	c, err := NewCORSBuilder().Origin("*").Build()
	assert.NoError(t, err)

	req := preflightRequest(t, "https://anything.test", "/api")
	req.Headers.Add("Access-Control-Request-Headers", "X-One, X-Two")

	res := c.preflight(req, corsTree())
	assert.Equal(t, "X-One, X-Two", res.Headers.Get("Access-Control-Allow-Headers"))
}

func TestCORSNotAPreflight(t *testing.T) {
	c, err := NewCORSBuilder().Origin("*").Build()
	assert.NoError(t, err)

	// No Origin header.
	assert.Nil(t, c.preflight(testRequest(t, MethodOptions, "/api"), corsTree()))

	// Not an OPTIONS request.
	req := testRequest(t, MethodGet, "/api")
	req.Headers.Add("Origin", "https://example.com")
	assert.Nil(t, c.preflight(req, corsTree()))
}

func TestCORSApply(t *testing.T) {
	c, err := NewCORSBuilder().Origin("https://example.com").Build()
	assert.NoError(t, err)

	req := testRequest(t, MethodGet, "/api")
	req.Headers.Add("Origin", "https://example.com")

	res := Ok()
	c.apply(req, res)
	assert.Equal(t, "https://example.com", res.Headers.Get("Access-Control-Allow-Origin"))

	req.Headers.Set("Origin", "https://evil.test")
	other := Ok()
	c.apply(req, other)
	assert.Empty(t, other.Headers.Get("Access-Control-Allow-Origin"))
}
