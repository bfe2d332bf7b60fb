package squall

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Response is an HTTP response.
type Response struct {
	Proto   string
	Status  int
	Reason  string
	Headers Headers
	Content []byte
}

// NewResponse returns a new instance of the `Response` with the status and
// its standard reason phrase.
func NewResponse(status int) *Response {
	return &Response{
		Proto:   "HTTP/1.1",
		Status:  status,
		Reason:  http.StatusText(status),
		Headers: Headers{},
	}
}

// Continue returns a 100 response.
func Continue() *Response { return NewResponse(http.StatusContinue) }

// SwitchingProtocols returns a 101 response.
func SwitchingProtocols() *Response { return NewResponse(http.StatusSwitchingProtocols) }

// Ok returns a 200 response.
func Ok() *Response { return NewResponse(http.StatusOK) }

// Created returns a 201 response.
func Created() *Response { return NewResponse(http.StatusCreated) }

// Accepted returns a 202 response.
func Accepted() *Response { return NewResponse(http.StatusAccepted) }

// NoContent returns a 204 response.
func NoContent() *Response { return NewResponse(http.StatusNoContent) }

// BadRequest returns a 400 response.
func BadRequest() *Response { return NewResponse(http.StatusBadRequest) }

// Unauthorized returns a 401 response.
func Unauthorized() *Response { return NewResponse(http.StatusUnauthorized) }

// Forbidden returns a 403 response.
func Forbidden() *Response { return NewResponse(http.StatusForbidden) }

// NotFound returns a 404 response.
func NotFound() *Response { return NewResponse(http.StatusNotFound) }

// MethodNotAllowed returns a 405 response.
func MethodNotAllowed() *Response { return NewResponse(http.StatusMethodNotAllowed) }

// InternalServerError returns a 500 response.
func InternalServerError() *Response { return NewResponse(http.StatusInternalServerError) }

// ServiceUnavailable returns a 503 response.
func ServiceUnavailable() *Response { return NewResponse(http.StatusServiceUnavailable) }

// Header appends the value under the name and returns the r, preserving
// fluency.
func (r *Response) Header(name, value string) *Response {
	r.Headers.Add(name, value)
	return r
}

// Body sets the content of the r and returns it.
func (r *Response) Body(b []byte) *Response {
	r.Content = b
	return r
}

// String sets the content of the r to the s and returns it.
func (r *Response) String(s string) *Response {
	r.Content = []byte(s)
	return r
}

// JSON sets the content of the r to the JSON form of the v and returns it.
// Encoding failures degrade the r to a 500.
func (r *Response) JSON(v interface{}) *Response {
	b, err := json.Marshal(v)
	if err != nil {
		r.Status = http.StatusInternalServerError
		r.Reason = http.StatusText(r.Status)
		r.Content = nil
		return r
	}

	r.Headers.Set("Content-Type", "application/json; charset=utf-8")
	r.Content = b

	return r
}

// serialize turns the r into its wire form. A Content-Length header is
// inserted when the r carries none.
func (r *Response) serialize() []byte {
	buf := bytes.Buffer{}
	fmt.Fprintf(&buf, "%s %d %s\r\n", r.Proto, r.Status, r.Reason)

	// Interim responses carry no body, and a Content-Length would confuse
	// clients waiting for the final one.
	if r.Status >= 200 && !r.Headers.Has("Content-Length") {
		r.Headers.Set("Content-Length", strconv.Itoa(len(r.Content)))
	}

	for name, values := range r.Headers {
		for _, value := range values {
			fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
		}
	}

	buf.WriteString("\r\n")
	buf.Write(r.Content)

	return buf.Bytes()
}

// parseResponse parses the b into a `Response`. It is the client-side
// counterpart of `serialize`, used by wire-level tests and probes.
func parseResponse(b []byte) (*Response, error) {
	end := bytes.Index(b, []byte("\r\n\r\n"))
	if end < 0 {
		return nil, &ParseError{Detail: "no end of header was found"}
	}

	header, body := b[:end], b[end+4:]
	lines := strings.Split(string(header), "\r\n")

	tokens := strings.SplitN(lines[0], " ", 3)
	if len(tokens) < 3 {
		return nil, &ParseError{Detail: "response's first line has incorrect format"}
	}

	status, err := strconv.Atoi(tokens[1])
	if err != nil {
		return nil, &ParseError{Detail: "response status is not a number"}
	}

	headers := Headers{}
	for _, line := range lines[1:] {
		i := strings.IndexByte(line, ':')
		if i < 0 {
			return nil, &ParseError{Detail: "corrupted header missing colon"}
		}

		headers.Add(line[:i], strings.TrimSpace(line[i+1:]))
	}

	return &Response{
		Proto:   tokens[0],
		Status:  status,
		Reason:  tokens[2],
		Headers: headers,
		Content: append([]byte(nil), body...),
	}, nil
}
