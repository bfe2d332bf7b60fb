package squall

import (
	"bytes"
	"strconv"
	"strings"
	"time"
)

// Cookie is an HTTP cookie.
type Cookie struct {
	Name     string
	Value    string
	Expires  time.Time
	MaxAge   int
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	SameSite string
}

// String returns the serialization string of the c, suitable for a
// Set-Cookie header.
func (c *Cookie) String() string {
	buf := bytes.Buffer{}

	buf.WriteString(c.Name)
	buf.WriteByte('=')
	buf.WriteString(c.Value)

	if c.Path != "" {
		buf.WriteString("; Path=")
		buf.WriteString(c.Path)
	}

	if c.Domain != "" {
		buf.WriteString("; Domain=")
		buf.WriteString(c.Domain)
	}

	if !c.Expires.IsZero() {
		buf.WriteString("; Expires=")
		buf.WriteString(c.Expires.UTC().Format(time.RFC1123))
	}

	if c.MaxAge > 0 {
		buf.WriteString("; Max-Age=")
		buf.WriteString(strconv.Itoa(c.MaxAge))
	}

	if c.Secure {
		buf.WriteString("; Secure")
	}

	if c.HTTPOnly {
		buf.WriteString("; HttpOnly")
	}

	if c.SameSite != "" {
		buf.WriteString("; SameSite=")
		buf.WriteString(c.SameSite)
	}

	return buf.String()
}

// parseCookies parses one Cookie request header line into its cookies.
// Malformed pairs are skipped.
func parseCookies(line string) []*Cookie {
	var cookies []*Cookie
	for _, pair := range strings.Split(line, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		i := strings.IndexByte(pair, '=')
		if i <= 0 {
			continue
		}

		cookies = append(cookies, &Cookie{
			Name:  pair[:i],
			Value: strings.Trim(pair[i+1:], `"`),
		})
	}

	return cookies
}
