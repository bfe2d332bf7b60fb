package squall

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// writeChunkSize is the write granularity of the dispatcher.
const writeChunkSize = 4096

// readChunkSize is the read granularity of the dispatcher.
const readChunkSize = 8 * 1024

// serveConn runs the request-response cycles of one accepted connection. It
// returns when the connection closes: after a response without keep-alive,
// after the per-connection deadline fires, after a fatal error, or after an
// upgraded WebSocket finishes. The caller releases the connection permit
// when this returns, which is what transfers the permit to the WebSocket
// lifetime.
func (s *Squall) serveConn(conn net.Conn) {
	for {
		deadline := time.Now().Add(s.Timeout)
		conn.SetDeadline(deadline)

		req, err := s.readRequest(conn)
		if err != nil {
			var pe *ParseError
			var ue *URLError
			switch {
			case errors.As(err, &pe), errors.As(err, &ue):
				s.logger.Debugf("squall: %v", err)
				writeResponse(conn, BadRequest())
			case errors.Is(err, ErrTimeout):
				s.logger.Debugf("squall: timeout for http response")
			default:
				s.logger.Debugf("squall: %v", err)
			}

			return
		} else if req == nil {
			// The peer closed the connection between requests.
			return
		}

		req.RemoteAddr = conn.RemoteAddr()

		if isUpgradeRequest(req) {
			s.serveWebSocket(conn, req)
			return
		}

		res := s.handle(req, deadline)
		if res == nil {
			s.logger.Debugf("squall: timeout for http response")
			return
		}

		s.finalize(res)
		s.logAccess(req, res)

		if err := writeResponse(conn, res); err != nil {
			s.logger.Debugf("squall: %v", err)
			return
		}

		if !req.requestsKeepAlive() {
			return
		}
	}
}

// readRequest reads one complete request off the conn: it grows a buffer
// until the header terminator appears, answers Expect: 100-continue with an
// interim 100 exactly once, and keeps reading until Content-Length bytes of
// body have followed the header. A nil request with a nil error means the
// peer closed the connection before sending anything.
func (s *Squall) readRequest(conn net.Conn) (*Request, error) {
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	var req *Request
	contentLength := -1
	continued := false

	for {
		if req == nil && bytes.Contains(buf, []byte("\r\n\r\n")) {
			var err error
			if req, err = parseRequest(buf); err != nil {
				return nil, err
			}

			if v := req.Headers.Get("Content-Length"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return nil, &ParseError{Detail: "unreadable Content-Length"}
				}

				contentLength = n
			}

			if !continued && req.Headers.Get("Expect") == "100-continue" {
				continued = true
				if err := writeResponse(conn, Continue()); err != nil {
					return nil, err
				}
			}
		}

		if req != nil {
			if contentLength < 0 {
				break
			} else if len(buf)-req.headerSize >= contentLength {
				break
			}
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			continue
		}

		if err == io.EOF {
			if len(buf) == 0 {
				return nil, nil
			}

			break
		}

		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ErrTimeout
		}

		return nil, err
	}

	// Reparse with the full body attached.
	return parseRequest(buf)
}

// handle resolves the req, builds its pipeline and executes it, racing the
// remaining share of the per-connection deadline. A nil response means the
// deadline won; the caller drops the connection.
func (s *Squall) handle(req *Request, deadline time.Time) *Response {
	if s.CORS != nil {
		if res := s.CORS.preflight(req, s.pure); res != nil {
			return res
		}
	}

	rn := s.pure.resolve(req.URL.Path, req.Method)
	if rn == nil || rn.kind == kindStream {
		res := s.NotFoundHandler(req, s.additional)
		s.applyCORS(req, res)
		return res
	}

	rn.stamp(req)

	done := make(chan *Response, 1)
	go func() {
		done <- newPipeline(rn.handler, rn.layers).Execute(req, s.additional)
	}()

	select {
	case res := <-done:
		s.applyCORS(req, res)
		return res
	case <-time.After(time.Until(deadline)):
		return nil
	}
}

// applyCORS attaches the response-side CORS headers, when a policy is
// configured.
func (s *Squall) applyCORS(req *Request, res *Response) {
	if s.CORS != nil {
		s.CORS.apply(req, res)
	}
}

// serveWebSocket performs the upgrade handshake for the req and, on
// success, hands the connection to the resolved stream handler. It blocks
// until the WebSocket closes.
func (s *Squall) serveWebSocket(conn net.Conn, req *Request) {
	rn := s.pure.resolve(req.URL.Path, req.Method)
	if rn == nil || rn.kind != kindStream {
		writeResponse(conn, NotFound())
		return
	}

	rn.stamp(req)

	res, err := handshakeResponse(req, s.WebSocketSubprotocol)
	if err != nil {
		s.logger.Debugf("squall: %v", err)
		writeResponse(conn, BadRequest())
		return
	}

	if err := writeResponse(conn, res); err != nil {
		s.logger.Debugf("squall: %v", err)
		return
	}

	s.logAccess(req, res)

	// The WebSocket outlives the request deadline.
	conn.SetDeadline(time.Time{})

	writer := newWebSocketWriter(conn)
	reader := rn.stream(req, s.additional, writer)
	if reader == nil {
		return
	}

	t := &webSocketThread{
		conn:   conn,
		reader: reader,
		logger: s.logger,
	}

	t.run()
}

// finalize applies the server-side response passes: Content-Type sniffing
// for bodies that carry none, then minification when enabled and the type
// is in the configured list.
func (s *Squall) finalize(res *Response) {
	if len(res.Content) == 0 {
		return
	}

	if !res.Headers.Has("Content-Type") {
		res.Headers.Set("Content-Type", sniffContentType(res.Content))
	}

	if s.MinifierEnabled {
		ct := res.Headers.Get("Content-Type")
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = ct[:i]
		}

		for _, mt := range s.MinifierMIMETypes {
			if mt == ct {
				if b, err := theMinifier.minify(ct, res.Content); err == nil {
					res.Content = b
				}

				break
			}
		}
	}
}

// logAccess renders the access-log template for one request-response cycle.
func (s *Squall) logAccess(req *Request, res *Response) {
	if s.AccessLogFormat == "" {
		return
	}

	addr := ""
	if req.RemoteAddr != nil {
		addr = req.RemoteAddr.String()
	}

	line := strings.NewReplacer(
		"%M", string(req.Method),
		"%P", req.URL.Path,
		"%S", strconv.Itoa(res.Status),
		"%A", addr,
	).Replace(s.AccessLogFormat)

	s.logger.Info(line)
}

// writeResponse serializes the res and writes it to the conn in chunks.
func writeResponse(conn net.Conn, res *Response) error {
	b := res.serialize()
	for len(b) > 0 {
		chunk := b
		if len(chunk) > writeChunkSize {
			chunk = chunk[:writeChunkSize]
		}

		n, err := conn.Write(chunk)
		if err != nil {
			return err
		}

		b = b[n:]
	}

	return nil
}
