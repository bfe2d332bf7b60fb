package squall

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Session is the per-client state bundle a `SessionCreator` round-trips
// through requests and responses.
type Session map[string]string

// SessionCreator parses the session carried by a request and applies one to
// a response. The core treats sessions as opaque; the only implementation
// shipped here signs them into a cookie.
type SessionCreator interface {
	// Parse extracts the session of the req. A request carrying no
	// session, or one whose signature does not verify, yields an empty
	// session and no error.
	Parse(req *Request) (Session, error)

	// Apply attaches the sess to the res and returns the res.
	Apply(sess Session, res *Response) *Response
}

// CookieSessionCreator is a `SessionCreator` that keeps the whole session in
// a signed cookie. The cookie value is base64url(payload).base64url(mac)
// where the mac is a keyed BLAKE2b-256 over the payload.
type CookieSessionCreator struct {
	// Name is the cookie name.
	//
	// Default value: "squall-session"
	Name string

	// Path is the cookie path attribute.
	//
	// Default value: ""
	Path string

	// Domain is the cookie domain attribute.
	//
	// Default value: ""
	Domain string

	// MaxAge is the cookie max-age attribute.
	//
	// Default value: 0
	MaxAge time.Duration

	// Secure is the cookie secure attribute.
	//
	// Default value: false
	Secure bool

	// HTTPOnly is the cookie http-only attribute.
	//
	// Default value: false
	HTTPOnly bool

	// SameSite is the cookie same-site attribute ("Strict", "Lax" or
	// "None").
	//
	// Default value: ""
	SameSite string

	key []byte
}

// NewCookieSessionCreator returns a new instance of the
// `CookieSessionCreator` signing with the secret. A random key is generated
// when the secret is nil.
func NewCookieSessionCreator(secret []byte) *CookieSessionCreator {
	if secret == nil {
		secret = make([]byte, 32)
		rand.Read(secret)
	}

	// BLAKE2b keys max out at 64 bytes.
	if len(secret) > 64 {
		sum := blake2b.Sum256(secret)
		secret = sum[:]
	}

	return &CookieSessionCreator{
		Name: "squall-session",
		key:  secret,
	}
}

// sign returns the MAC of the payload under the c's key.
func (c *CookieSessionCreator) sign(payload []byte) ([]byte, error) {
	h, err := blake2b.New256(c.key)
	if err != nil {
		return nil, ErrCrypto
	}

	h.Write(payload)

	return h.Sum(nil), nil
}

// Parse implements the `SessionCreator`.
func (c *CookieSessionCreator) Parse(req *Request) (Session, error) {
	cookie := req.Cookie(c.Name)
	if cookie == nil {
		return Session{}, nil
	}

	payloadPart, macPart, ok := strings.Cut(cookie.Value, ".")
	if !ok {
		return Session{}, nil
	}

	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return Session{}, nil
	}

	mac, err := base64.RawURLEncoding.DecodeString(macPart)
	if err != nil {
		return Session{}, nil
	}

	expected, err := c.sign(payload)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare(mac, expected) != 1 {
		// An invalid signature degrades to an empty session rather than
		// an error: the client simply starts over.
		return Session{}, nil
	}

	sess := Session{}
	if err := json.Unmarshal(payload, &sess); err != nil {
		return Session{}, nil
	}

	return sess, nil
}

// Apply implements the `SessionCreator`.
func (c *CookieSessionCreator) Apply(sess Session, res *Response) *Response {
	payload, err := json.Marshal(sess)
	if err != nil {
		return res
	}

	mac, err := c.sign(payload)
	if err != nil {
		return res
	}

	value := strings.Join([]string{
		base64.RawURLEncoding.EncodeToString(payload),
		base64.RawURLEncoding.EncodeToString(mac),
	}, ".")

	cookie := &Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   int(c.MaxAge / time.Second),
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		SameSite: c.SameSite,
	}

	return res.Header("Set-Cookie", cookie.String())
}
