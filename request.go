package squall

import (
	"bytes"
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Request is an HTTP request.
//
// A `Request` is created once per connection read and is immutable with two
// exceptions: the dispatcher sets the RemoteAddr, and the route resolver
// stamps the depth and the variable indices before the pipeline runs, which
// is what drives the `Request.PathVar`.
type Request struct {
	Method     Method
	URL        *url.URL
	Proto      string
	Headers    Headers
	Body       []byte
	RemoteAddr net.Addr

	headerSize      int
	depth           int
	variableIndices []int
}

// NewRequest returns a new instance of the `Request` addressed at the rawURL
// with the method, ready to be fleshed out with headers and a body. It is
// the client-side counterpart of `parseRequest`, mostly useful for tests and
// probes.
func NewRequest(method Method, rawURL string) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &URLError{Err: err}
	}

	return &Request{
		Method:  method,
		URL:     u,
		Proto:   "HTTP/1.1",
		Headers: Headers{},
	}, nil
}

// parseRequest parses the b into a `Request`.
//
// The header part must terminate with \r\n\r\n and be valid UTF-8. The first
// line must hold exactly three space-separated tokens and the version token
// must start with "HTTP". Remaining lines are headers: names keep their
// case, values are trimmed, repeats collect under one key. The full URL is
// synthesized from the Host header and the request target.
func parseRequest(b []byte) (*Request, error) {
	end := bytes.Index(b, []byte("\r\n\r\n"))
	if end < 0 {
		return nil, &ParseError{Detail: "no end of header was found"}
	}

	header, body := b[:end], b[end+4:]
	if !utf8.Valid(header) {
		return nil, &ParseError{Detail: "header is not valid utf-8"}
	}

	lines := strings.Split(string(header), "\r\n")

	tokens := strings.Split(lines[0], " ")
	if len(tokens) != 3 {
		return nil, &ParseError{Detail: "request's first line has incorrect format"}
	} else if !strings.HasPrefix(tokens[2], "HTTP") {
		return nil, &ParseError{Detail: "unsupported protocol"}
	}

	headers := Headers{}
	for _, line := range lines[1:] {
		i := strings.IndexByte(line, ':')
		if i < 0 {
			return nil, &ParseError{Detail: "corrupted header missing colon"}
		}

		headers.Add(line[:i], strings.TrimSpace(line[i+1:]))
	}

	host := headers.Get("Host")
	if host == "" {
		host = "missing.host"
	}

	u, err := url.Parse(fmt.Sprint("http://", host, tokens[1]))
	if err != nil {
		return nil, &URLError{Err: err}
	}

	return &Request{
		Method:     Method(tokens[0]),
		URL:        u,
		Proto:      tokens[2],
		Headers:    headers,
		Body:       append([]byte(nil), body...),
		headerSize: end + 4,
	}, nil
}

// Serialize turns the r into its wire form.
func (r *Request) Serialize() []byte {
	buf := bytes.Buffer{}

	target := r.URL.Path
	if target == "" {
		target = "/"
	}

	if r.URL.RawQuery != "" {
		target = fmt.Sprint(target, "?", r.URL.RawQuery)
	}

	fmt.Fprintf(&buf, "%s %s %s\r\n", r.Method, target, r.Proto)
	for name, values := range r.Headers {
		for _, value := range values {
			fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
		}
	}

	buf.WriteString("\r\n")
	buf.Write(r.Body)

	return buf.Bytes()
}

// Path returns the URL path of the r.
func (r *Request) Path() string {
	return r.URL.Path
}

// Query returns the parsed query values of the r.
func (r *Request) Query() url.Values {
	return r.URL.Query()
}

// Depth returns the number of path segments the matched route consumed. The
// files handler uses it to find where the route stops and the file path
// starts.
func (r *Request) Depth() int {
	return r.depth
}

// PathVars returns the values of all variable (and pattern) segments of the
// matched route, in order of appearance.
func (r *Request) PathVars() []string {
	tokens := splitPath(r.URL.Path)

	vars := make([]string, 0, len(r.variableIndices))
	for _, i := range r.variableIndices {
		if i < len(tokens) {
			vars = append(vars, tokens[i])
		}
	}

	return vars
}

// PathVar returns the value of the i-th variable segment of the matched
// route. The error is a bad-request `ExtractionError` when the route bound
// fewer variables than the i requires.
func (r *Request) PathVar(i int) (string, error) {
	vars := r.PathVars()
	if i < 0 || i >= len(vars) {
		return "", &ExtractionError{
			BadRequest: true,
			Err:        fmt.Errorf("path variable %d out of range", i),
		}
	}

	return vars[i], nil
}

// Bind decodes the body of the r into the v based on the Content-Type
// header; GET requests bind from the query string instead. See the `binder`
// for the supported media types.
func (r *Request) Bind(v interface{}) error {
	return theBinder.bind(v, r)
}

// Cookies returns the cookies attached to the r.
func (r *Request) Cookies() []*Cookie {
	var cookies []*Cookie
	for _, line := range r.Headers.Values("Cookie") {
		cookies = append(cookies, parseCookies(line)...)
	}

	return cookies
}

// Cookie returns the cookie named name of the r, or nil when absent.
func (r *Request) Cookie(name string) *Cookie {
	for _, c := range r.Cookies() {
		if c.Name == name {
			return c
		}
	}

	return nil
}

// Session parses the session carried by the r using the session creator of
// the add. The error is the `ErrNoSessionCreator` when none is configured.
func (r *Request) Session(add *Additional) (Session, error) {
	if add == nil || add.SessionCreator == nil {
		return nil, ErrNoSessionCreator
	}

	return add.SessionCreator.Parse(r)
}

// requestsKeepAlive reports whether the r asked for the connection to stay
// open after the response.
func (r *Request) requestsKeepAlive() bool {
	return r.Headers.ContainsToken("Connection", "keep-alive")
}
