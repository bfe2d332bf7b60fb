package squall

import (
	"net"
	"time"
)

// listener implements the `net.Listener`. It enables TCP keep-alive on every
// accepted connection so half-dead peers eventually release their permit.
type listener struct {
	*net.TCPListener

	s *Squall
}

// newListener returns a new instance of the `listener` with the s.
func newListener(s *Squall) *listener {
	return &listener{
		s: s,
	}
}

// listen listens on the TCP network address.
func (l *listener) listen(address string) error {
	nl, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	l.TCPListener = nl.(*net.TCPListener)

	return nil
}

// Accept implements the `net.Listener`.
func (l *listener) Accept() (net.Conn, error) {
	tc, err := l.AcceptTCP()
	if err != nil {
		return nil, err
	}

	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)

	return tc, nil
}
