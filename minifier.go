package squall

import (
	"bytes"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"
	"github.com/tdewolff/minify/v2/xml"
)

// minifier is used to minify contents by the MIME types.
type minifier struct {
	m *minify.M
}

// theMinifier is the singleton instance of the `minifier`.
var theMinifier = newMinifier()

// newMinifier returns a pointer of a new instance of the `minifier`.
func newMinifier() *minifier {
	m := minify.New()
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("application/javascript", js.Minify)
	m.AddFunc("application/json", json.Minify)
	m.AddFunc("application/xml", xml.Minify)
	m.AddFunc("image/svg+xml", svg.Minify)

	return &minifier{
		m: m,
	}
}

// minify minifies the b by the mimeType.
func (m *minifier) minify(mimeType string, b []byte) ([]byte, error) {
	if ss := strings.Split(mimeType, ";"); len(ss) > 1 {
		mimeType = ss[0]
	}

	buf := &bytes.Buffer{}
	if err := m.m.Minify(mimeType, buf, bytes.NewReader(b)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
