package squall

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
)

// webSocketGUID is the magic string the accept key derivation concatenates,
// per RFC 6455.
const webSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// wsChunkSize is the write granularity of the `WebSocketWriter`.
const wsChunkSize = 4096

// WebSocketReader receives the lifecycle callbacks of one WebSocket
// connection. OnOpen runs once before the first frame, OnMessage once per
// inbound message and OnClose exactly once at the end; clean is true when
// the peer sent a close frame and false when the socket died under the
// connection.
//
// The read loop drives the callbacks serially. Writes through the
// `WebSocketWriter` may happen from any goroutine, including inside the
// callbacks.
type WebSocketReader interface {
	OnOpen()
	OnMessage(msg Message)
	OnClose(clean bool)
}

// isUpgradeRequest reports whether the req asks for a WebSocket upgrade: the
// Upgrade header must be exactly "websocket" and the Connection header must
// contain the token "Upgrade" in any case.
func isUpgradeRequest(req *Request) bool {
	return req.Headers.Get("Upgrade") == "websocket" &&
		req.Headers.ContainsToken("Connection", "Upgrade")
}

// webSocketAccept derives the Sec-WebSocket-Accept value from the client's
// nonce.
func webSocketAccept(nonce string) string {
	sum := sha1.Sum([]byte(fmt.Sprint(nonce, webSocketGUID)))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// handshakeResponse validates the upgrade headers of the req and builds the
// 101 response. The subprotocol is the one the application registered; when
// non-empty it must appear in the client's comma-separated
// Sec-WebSocket-Protocol list. A nil response together with a non-nil error
// means the dispatcher should answer 400 and close.
func handshakeResponse(req *Request, subprotocol string) (*Response, error) {
	nonce := req.Headers.Get("Sec-WebSocket-Key")
	if nonce == "" {
		return nil, &ParseError{Detail: "missing Sec-WebSocket-Key"}
	}

	res := SwitchingProtocols().
		Header("Upgrade", "websocket").
		Header("Connection", "Upgrade").
		Header("Sec-WebSocket-Accept", webSocketAccept(nonce))

	if subprotocol != "" {
		offered := false
		for _, v := range req.Headers.Values("Sec-WebSocket-Protocol") {
			for _, p := range strings.Split(v, ",") {
				if strings.TrimSpace(p) == subprotocol {
					offered = true
				}
			}
		}

		if !offered {
			return nil, &ParseError{Detail: "subprotocol not offered by client"}
		}

		res.Header("Sec-WebSocket-Protocol", subprotocol)
	}

	return res, nil
}

// WebSocketWriter is the writing half of an upgraded connection. It is safe
// to share across goroutines; the reading half stays owned by the read loop.
type WebSocketWriter struct {
	conn  net.Conn
	mutex sync.Mutex
}

// newWebSocketWriter returns a new instance of the `WebSocketWriter` over
// the conn.
func newWebSocketWriter(conn net.Conn) *WebSocketWriter {
	return &WebSocketWriter{conn: conn}
}

// write serializes the f and writes it out in chunks.
func (w *WebSocketWriter) write(f *Frame) error {
	b := f.serialize()

	w.mutex.Lock()
	defer w.mutex.Unlock()

	for len(b) > 0 {
		chunk := b
		if len(chunk) > wsChunkSize {
			chunk = chunk[:wsChunkSize]
		}

		n, err := w.conn.Write(chunk)
		if err != nil {
			return err
		}

		b = b[n:]
	}

	return nil
}

// Text sends a text message to the peer of the w.
func (w *WebSocketWriter) Text(text string) error {
	return w.write(TextFrame(text))
}

// Binary sends a binary message to the peer of the w.
func (w *WebSocketWriter) Binary(b []byte) error {
	return w.write(BinaryFrame(b))
}

// Ping sends a ping to the peer of the w with the payload.
func (w *WebSocketWriter) Ping(payload []byte) error {
	return w.write(PingFrame(payload))
}

// Pong sends a pong to the peer of the w with the payload.
func (w *WebSocketWriter) Pong(payload []byte) error {
	return w.write(PongFrame(payload))
}

// Close sends a close frame to the peer of the w.
func (w *WebSocketWriter) Close() error {
	return w.write(CloseFrame())
}

// webSocketThread owns the reading half of an upgraded connection and drives
// the reader's callbacks until the connection ends.
type webSocketThread struct {
	conn   net.Conn
	reader WebSocketReader
	logger *Logger
}

// run executes the read loop. It blocks until the connection closes, so the
// dispatcher keeps the connection permit alive for exactly as long as the
// WebSocket lives.
func (t *webSocketThread) run() {
	t.reader.OnOpen()

	if err := t.readLoop(); err != nil {
		t.logger.Debugf("squall: leaving websocket read loop: %v", err)
		t.reader.OnClose(false)
	}
}

// readLoop reads frames until a close frame, EOF or a fatal error. It
// returns nil when it has notified the reader itself (a close frame, or EOF
// between frames) and an error otherwise (the caller notifies).
func (t *webSocketThread) readLoop() error {
	buf := make([]byte, 0, 8*1024)
	chunk := make([]byte, 8*1024)

	for {
		frame, err := parseFrame(buf)

		var incomplete *IncompleteError
		switch {
		case err == nil:
			// Drop the parsed frame and keep whatever followed it.
			size := 2 + len(frame.Message.Data)
			switch buf[1] & 0x7f {
			case 126:
				size += 2
			case 127:
				size += 8
			}

			if frame.maskingKey != nil {
				size += 4
			}

			buf = append(buf[:0], buf[size:]...)
			if frame.IsClose() {
				t.reader.OnClose(true)
				return nil
			}

			t.reader.OnMessage(frame.Message)
			continue
		case errors.Is(err, errNullContent), errors.As(err, &incomplete):
			// Recoverable: more bytes are needed.
		default:
			return err
		}

		n, err := t.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			continue
		}

		if err == io.EOF && len(buf) == 0 {
			t.reader.OnClose(false)
			return nil
		} else if err == io.EOF {
			return ErrConnectionReset
		} else if err != nil {
			return err
		}
	}
}
