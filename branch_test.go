package squall

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func stubHandler(body string) Handler {
	return func(req *Request, add *Additional) *Response {
		return Ok().String(body)
	}
}

func testRequest(t *testing.T, method Method, path string) *Request {
	t.Helper()

	u, err := url.Parse("http://localhost" + path)
	assert.NoError(t, err)

	return &Request{
		Method:  method,
		URL:     u,
		Proto:   "HTTP/1.1",
		Headers: Headers{},
	}
}

func execute(t *testing.T, pb *pureBranch, method Method, path string) (*Response, *Request) {
	t.Helper()

	req := testRequest(t, method, path)
	rn := pb.resolve(req.URL.Path, req.Method)
	if rn == nil {
		return nil, req
	}

	rn.stamp(req)

	return newPipeline(rn.handler, rn.layers).Execute(req, &Additional{}), req
}

func TestBranchExactResolution(t *testing.T) {
	b := NewBranch("/hello/world").With(MethodGet.To(stubHandler("hi")))
	pb := b.purify()

	res, _ := execute(t, pb, MethodGet, "/hello/world")
	assert.NotNil(t, res)
	assert.Equal(t, "hi", string(res.Content))

	res, _ = execute(t, pb, MethodGet, "/hello")
	assert.Nil(t, res)

	res, _ = execute(t, pb, MethodGet, "/hello/world/deeper")
	assert.Nil(t, res)
}

func TestBranchRootPath(t *testing.T) {
	b := NewBranch("/").With(MethodGet.To(stubHandler("root")))
	pb := b.purify()

	// Both "" and "/" match the root node.
	for _, path := range []string{"", "/"} {
		rn := pb.resolve(path, MethodGet)
		assert.NotNil(t, rn)
		assert.Equal(t, kindExact, rn.kind)
	}
}

func TestBranchPriorities(t *testing.T) {
	b := NewBranch("/api").With(MethodGet.To(stubHandler("exact")))
	b.Merge(NewBranch("/{regex:^[0-9]+$}").With(MethodGet.To(stubHandler("pattern"))))
	b.Merge(NewBranch("/{regex:^[a-z]+$}").With(MethodGet.To(stubHandler("letters"))))
	b.Merge(NewBranch("/{:rest}").With(MethodGet.To(stubHandler("variable"))))
	pb := b.purify()

	res, _ := execute(t, pb, MethodGet, "/42")
	assert.Equal(t, "pattern", string(res.Content))

	// Exact beats pattern even though the pattern also matches.
	res, _ = execute(t, pb, MethodGet, "/api")
	assert.Equal(t, "exact", string(res.Content))

	// Only the letters pattern matches "abc". ("api" would match it too,
	// but the exact child has priority, as checked above.)
	res, _ = execute(t, pb, MethodGet, "/abc")
	assert.Equal(t, "letters", string(res.Content))

	// The variable child catches what no pattern matches.
	res, _ = execute(t, pb, MethodGet, "/ABC-42")
	assert.Equal(t, "variable", string(res.Content))
}

func TestBranchPatternInsertionOrder(t *testing.T) {
	b := NewBranch("/{regex:^[0-9]+$}").With(MethodGet.To(stubHandler("digits")))
	b.Merge(NewBranch("/{regex:^[0-9a-f]+$}").With(MethodGet.To(stubHandler("hex"))))
	pb := b.purify()

	// "42" matches both patterns; the first-inserted one wins.
	res, _ := execute(t, pb, MethodGet, "/42")
	assert.Equal(t, "digits", string(res.Content))

	res, _ = execute(t, pb, MethodGet, "/4f")
	assert.Equal(t, "hex", string(res.Content))
}

func TestBranchResolutionDeterminism(t *testing.T) {
	b := NewBranch("/a/{regex:^[0-9]+$}/{:name}").
		With(MethodGet.To(stubHandler("deep")))
	pb := b.purify()

	for i := 0; i < 16; i++ {
		rn := pb.resolve("/a/7/alice", MethodGet)
		assert.NotNil(t, rn)
		assert.Equal(t, kindExact, rn.kind)
		assert.Equal(t, []bool{true, true, false}, rn.indicators)
	}
}

func TestBranchVariableIndices(t *testing.T) {
	b := NewBranch("/a/{:x}/b/{:y}").With(MethodGet.To(stubHandler("vars")))
	pb := b.purify()

	_, req := execute(t, pb, MethodGet, "/a/V/b/W")
	assert.Equal(t, 4, req.Depth())
	assert.Equal(t, []int{1, 3}, req.variableIndices)
	assert.Equal(t, []string{"V", "W"}, req.PathVars())

	v, err := req.PathVar(0)
	assert.NoError(t, err)
	assert.Equal(t, "V", v)

	w, err := req.PathVar(1)
	assert.NoError(t, err)
	assert.Equal(t, "W", w)

	_, err = req.PathVar(2)
	assert.Error(t, err)
}

func TestBranchUnmatchedMethod(t *testing.T) {
	b := NewBranch("/scope").
		With(MethodGet.To(stubHandler("get"))).
		UnmatchedMethodTo(DefaultMethodNotAllowedHandler)
	pb := b.purify()

	rn := pb.resolve("/scope", MethodPost)
	assert.NotNil(t, rn)
	assert.Equal(t, kindUnmatchedMethod, rn.kind)

	res, _ := execute(t, pb, MethodPost, "/scope")
	assert.Equal(t, 405, res.Status)
}

func TestBranchDefaults(t *testing.T) {
	b := NewBranch("/hello").DefaultsTo(stubHandler("lost?"))
	pb := b.purify()

	for _, path := range []string{"/hello", "/hello/world", "/hello/a/b"} {
		rn := pb.resolve(path, MethodGet)
		assert.NotNil(t, rn, path)
		assert.Equal(t, kindDefault, rn.kind, path)
	}

	rn := pb.resolve("/other", MethodGet)
	assert.Nil(t, rn)
}

func TestBranchMethodHandlerMultipleMethods(t *testing.T) {
	b := NewBranch("/multi").With(MethodGet.To(stubHandler("any")).And(MethodPost, MethodPut))
	pb := b.purify()

	for _, m := range []Method{MethodGet, MethodPost, MethodPut} {
		rn := pb.resolve("/multi", m)
		assert.NotNil(t, rn)
		assert.Equal(t, kindExact, rn.kind)
	}

	assert.Nil(t, pb.resolve("/multi", MethodDelete))
}

func TestBranchMergeLeftPriority(t *testing.T) {
	left := NewBranch("/x").With(MethodGet.To(stubHandler("left")))
	right := NewBranch("/x").
		With(MethodGet.To(stubHandler("right"))).
		With(MethodPost.To(stubHandler("right-post")))

	pb := left.Merge(right).purify()

	// Method handlers keep the left entry per method.
	res, _ := execute(t, pb, MethodGet, "/x")
	assert.Equal(t, "left", string(res.Content))

	// The right side fills what the left lacks.
	res, _ = execute(t, pb, MethodPost, "/x")
	assert.Equal(t, "right-post", string(res.Content))
}

func TestBranchMergeAssociativity(t *testing.T) {
	build := func() (*Branch, *Branch, *Branch) {
		a := NewBranch("/a").With(MethodGet.To(stubHandler("a")))
		b := NewBranch("/b/{:v}").With(MethodGet.To(stubHandler("b")))
		c := NewBranch("/b").With(MethodPost.To(stubHandler("c")))
		return a, b, c
	}

	a1, b1, c1 := build()
	leftAssoc := a1.Merge(b1).Merge(c1).purify()

	a2, b2, c2 := build()
	rightAssoc := a2.Merge(b2.Merge(c2)).purify()

	cases := []struct {
		method Method
		path   string
	}{
		{MethodGet, "/a"},
		{MethodGet, "/b/anything"},
		{MethodPost, "/b"},
		{MethodGet, "/b"},
		{MethodGet, "/missing"},
	}
	for _, c := range cases {
		l := leftAssoc.resolve(c.path, c.method)
		r := rightAssoc.resolve(c.path, c.method)
		if l == nil {
			assert.Nil(t, r, c.path)
			continue
		}

		assert.NotNil(t, r, c.path)
		assert.Equal(t, l.kind, r.kind, c.path)
		assert.Equal(t, l.indicators, r.indicators, c.path)
	}
}

func TestBranchNest(t *testing.T) {
	inner := NewBranch("/world").With(MethodGet.To(stubHandler("nested")))
	b := NewBranch("/hello").Nest(inner)
	pb := b.purify()

	res, _ := execute(t, pb, MethodGet, "/hello/world")
	assert.Equal(t, "nested", string(res.Content))

	assert.Nil(t, pb.resolve("/world", MethodGet))
}

func TestBranchLayerAccumulation(t *testing.T) {
	var order []string
	layer := func(tag string) LayerFunc {
		return func(req *Request, next *Pipeline, add *Additional) *Response {
			order = append(order, tag+"-in")
			res := next.Execute(req, add)
			order = append(order, tag+"-out")
			return res
		}
	}

	inner := NewBranch("/inner").
		With(MethodGet.To(stubHandler("ok"))).
		Layer(layer("l2a"))
	b := NewBranch("/outer").
		Nest(inner).
		Layer(layer("l1a")).
		Layer(layer("l1b"))
	pb := b.purify()

	res, _ := execute(t, pb, MethodGet, "/outer/inner")
	assert.Equal(t, "ok", string(res.Content))
	assert.Equal(
		t,
		[]string{"l1a-in", "l1b-in", "l2a-in", "l2a-out", "l1b-out", "l1a-out"},
		order,
	)
}

func TestBranchStreamResolution(t *testing.T) {
	b := NewBranch("/ws").StreamHandler(func(req *Request, add *Additional, ws *WebSocketWriter) WebSocketReader {
		return nil
	})
	pb := b.purify()

	rn := pb.resolve("/ws", MethodGet)
	assert.NotNil(t, rn)
	assert.Equal(t, kindStream, rn.kind)
	assert.NotNil(t, rn.stream)
	assert.Nil(t, rn.handler)
}

func TestBranchFilesExtensionPolicy(t *testing.T) {
	b := NewBranch("/").
		DefaultsTo(stubHandler("spa")).
		Files("./static")
	pb := b.purify()

	// No extension goes to the default handler.
	rn := pb.resolve("/route/without/extension", MethodGet)
	assert.NotNil(t, rn)
	assert.Equal(t, kindDefault, rn.kind)

	// An extension activates the files handler.
	rn = pb.resolve("/app.css", MethodGet)
	assert.NotNil(t, rn)
	assert.Equal(t, kindFiles, rn.kind)
}

func TestBranchSupportedMethods(t *testing.T) {
	b := NewBranch("/a").
		With(MethodGet.To(stubHandler("a")).And(MethodPost))
	pb := b.purify()

	ms := pb.supportedMethods("/a")
	assert.ElementsMatch(t, []Method{MethodGet, MethodPost}, ms)

	assert.Nil(t, pb.supportedMethods("/missing"))
}
