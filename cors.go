package squall

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// CORSBuilder accumulates a cross-origin policy.
type CORSBuilder struct {
	origins  []string
	allowAll bool
	methods  []Method
	headers  []string
	maxAge   int
}

// NewCORSBuilder returns a new instance of the `CORSBuilder`. Without any
// allowed origin, every preflight is answered with a 403 and no response
// carries Access-Control-Allow-Origin.
func NewCORSBuilder() *CORSBuilder {
	return &CORSBuilder{}
}

// Origin adds an allowed origin. "*" allows every origin.
func (b *CORSBuilder) Origin(origin string) *CORSBuilder {
	if origin == "*" {
		b.allowAll = true
	} else {
		b.origins = append(b.origins, origin)
	}

	return b
}

// AllowedMethod adds an allowed method for preflight requests. Without any,
// preflight responses advertise the methods the route tree actually answers
// for the requested path.
func (b *CORSBuilder) AllowedMethod(m Method) *CORSBuilder {
	b.methods = append(b.methods, m)
	return b
}

// AllowedHeader adds an allowed header. Without any, preflight responses
// mirror the headers listed in Access-Control-Request-Headers.
func (b *CORSBuilder) AllowedHeader(h string) *CORSBuilder {
	b.headers = append(b.headers, h)
	return b
}

// MaxAge sets the number of seconds preflight responses may be cached.
func (b *CORSBuilder) MaxAge(seconds int) *CORSBuilder {
	b.maxAge = seconds
	return b
}

// Build validates the accumulated policy and returns it. Each configured
// origin must parse as a URL; origins are compared by scheme, host and port.
func (b *CORSBuilder) Build() (*CORS, error) {
	c := &CORS{
		origins:  map[string]bool{},
		allowAll: b.allowAll,
		methods:  b.methods,
		headers:  b.headers,
		maxAge:   b.maxAge,
	}

	for _, origin := range b.origins {
		u, err := url.Parse(origin)
		if err != nil {
			return nil, &URLError{Err: err}
		}

		if u.Scheme == "" || u.Host == "" {
			return nil, &URLError{
				Err: fmt.Errorf("origin %q has no scheme or host", origin),
			}
		}

		c.origins[fmt.Sprint(u.Scheme, "://", u.Host)] = true
	}

	return c, nil
}

// CORS is a built cross-origin policy. Use the `CORSBuilder` to create one.
type CORS struct {
	origins  map[string]bool
	allowAll bool
	methods  []Method
	headers  []string
	maxAge   int
}

// allows reports whether the origin is allowed, and the value to put in
// Access-Control-Allow-Origin when it is.
func (c *CORS) allows(origin string) (string, bool) {
	if origin == "" {
		return "", false
	}

	if c.allowAll {
		return "*", true
	}

	if c.origins[origin] {
		return origin, true
	}

	return "", false
}

// preflight short-circuits OPTIONS requests carrying an Origin. It returns
// nil when the req is not a preflight, a 403 when the origin is not allowed
// and the preflight response otherwise.
func (c *CORS) preflight(req *Request, pb *pureBranch) *Response {
	origin := req.Headers.Get("Origin")
	if req.Method != MethodOptions || origin == "" {
		return nil
	}

	allowed, ok := c.allows(origin)
	if !ok {
		return Forbidden()
	}

	res := Ok().Header("Access-Control-Allow-Origin", allowed)

	methods := c.methods
	if methods == nil {
		methods = pb.supportedMethods(req.URL.Path)
	}

	if len(methods) > 0 {
		ss := make([]string, len(methods))
		for i, m := range methods {
			ss[i] = string(m)
		}

		res.Header("Access-Control-Allow-Methods", strings.Join(ss, ", "))
	}

	headers := c.headers
	if headers == nil {
		headers = req.Headers.Values("Access-Control-Request-Headers")
	}

	if len(headers) > 0 {
		res.Header("Access-Control-Allow-Headers", strings.Join(headers, ", "))
	}

	if c.maxAge > 0 {
		res.Header("Access-Control-Max-Age", strconv.Itoa(c.maxAge))
	}

	return res
}

// apply attaches the response-side CORS header to the res when the req
// carries an allowed Origin.
func (c *CORS) apply(req *Request, res *Response) {
	if allowed, ok := c.allows(req.Headers.Get("Origin")); ok {
		res.Headers.Set("Access-Control-Allow-Origin", allowed)
	}
}
