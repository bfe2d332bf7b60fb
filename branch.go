package squall

import (
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aofei/mimesniffer"
)

// Segment classifiers. A {:name} segment binds a variable, a {regex:...}
// segment compiles its body, everything else matches literally.
var (
	variableSegmentRE = regexp.MustCompile(`^\{:.*\}$`)
	patternSegmentRE  = regexp.MustCompile(`^\{regex:.*\}$`)
)

type (
	// Branch is the mutable building block of the route tree. Each node
	// holds exact children in a map, pattern children in an ordered
	// queue, at most one variable child, the handlers installed at the
	// node and the middleware layers local to it.
	//
	// Matching priority is exact, then pattern in insertion order, then
	// variable. A branch created from a multi-segment path spawns the
	// whole chain at once; the registration methods (`Branch.With`,
	// `Branch.Layer`, `Branch.Nest`, ...) operate on the leaf of that
	// chain, so
	//
	//	NewBranch("/a/{regex:^[0-9]+$}/{:name}").With(MethodGet.To(h))
	//
	// installs the h three levels deep.
	Branch struct {
		exactBranches   map[string]*Branch
		patternBranches []*patternBranch
		variableBranch  *variableBranch

		source string

		methodHandlers         map[Method]Handler
		unmatchedMethodHandler Handler
		defaultHandler         Handler
		filesHandler           Handler
		streamHandler          StreamHandlerFunc

		layers []LayerFunc
	}

	// patternBranch is a pattern child of a `Branch`.
	patternBranch struct {
		re     *regexp.Regexp
		branch *Branch
	}

	// variableBranch is the variable child of a `Branch`.
	variableBranch struct {
		name   string
		branch *Branch
	}
)

// NewBranch returns a new instance of the `Branch` rooted at the path. Each
// path segment is classified as exact, pattern or variable (see the type
// documentation). Invalid pattern bodies panic, which surfaces the typo at
// construction time rather than at match time.
func NewBranch(path string) *Branch {
	b := &Branch{
		exactBranches:  map[string]*Branch{},
		methodHandlers: map[Method]Handler{},
		source:         path,
	}

	trimmed := trimLeadingSlash(path)

	var base string
	var rest *Branch
	if head, tail, ok := splitPathOnce(trimmed); ok {
		base, rest = head, NewBranch(tail)
	} else if trimmed != "" {
		base, rest = trimmed, NewBranch("")
	} else {
		return b
	}

	switch {
	case variableSegmentRE.MatchString(base):
		name := strings.TrimSuffix(strings.TrimPrefix(base, "{:"), "}")
		b.variableBranch = &variableBranch{
			name:   name,
			branch: rest,
		}
	case patternSegmentRE.MatchString(base):
		src := strings.TrimSuffix(strings.TrimPrefix(base, "{regex:"), "}")
		re, err := regexp.Compile(src)
		if err != nil {
			panic(fmt.Sprintf("squall: invalid pattern segment %q: %v", src, err))
		}

		b.patternBranches = append(b.patternBranches, &patternBranch{
			re:     re,
			branch: rest,
		})
	default:
		b.exactBranches[base] = rest
	}

	return b
}

// With installs the mh at the leaf of the path the b was created with and
// returns the b, preserving fluency. One `MethodHandler` may bind several
// methods at once.
func (b *Branch) With(mh MethodHandler) *Branch {
	top := b.mustTop()
	for _, m := range mh.methods {
		top.methodHandlers[m] = mh.handler
	}

	return b
}

// UnmatchedMethodTo sets the h as the leaf's fallback for methods that have
// no handler of their own. Without it, an unmatched method falls through to
// the leaf's default or stream handler and otherwise matches nothing; install
// the `DefaultMethodNotAllowedHandler` here to answer 405.
func (b *Branch) UnmatchedMethodTo(h Handler) *Branch {
	b.mustTop().unmatchedMethodHandler = h
	return b
}

// DefaultsTo sets the h as the leaf's subtree fallback: any path under the
// leaf that matches nothing else lands in the h.
func (b *Branch) DefaultsTo(h Handler) *Branch {
	b.mustTop().defaultHandler = h
	return b
}

// Files marks the leaf as a static-file endpoint serving from the root.
// Only requests whose final path segment carries an extension use it; paths
// without an extension keep falling through to the default handler, which
// keeps single-page-application routes and asset routes cleanly separated.
func (b *Branch) Files(root string) *Branch {
	b.mustTop().filesHandler = func(req *Request, add *Additional) *Response {
		tokens := splitPath(req.URL.Path)
		if req.depth > len(tokens) {
			return InternalServerError()
		}

		rel := filepath.Join(tokens[req.depth:]...)
		name := filepath.Join(root, filepath.Clean(fmt.Sprint("/", rel)))
		if !hasExtension(name) {
			return InternalServerError()
		}

		return serveFile(name, add)
	}

	return b
}

// DefaultsToFile sets the leaf's default handler to serve the one file at
// the path. Useful as the entry point of a single-page application.
func (b *Branch) DefaultsToFile(path string) *Branch {
	b.mustTop().defaultHandler = func(req *Request, add *Additional) *Response {
		if !hasExtension(path) {
			return InternalServerError()
		}

		return serveFile(path, add)
	}

	return b
}

// Layer appends the l to the leaf's middleware. The first layer registered
// at a node is the outermost at that node; registering several layers wraps
// the handlers like an onion.
func (b *Branch) Layer(l LayerFunc) *Branch {
	top := b.mustTop()
	top.layers = append(top.layers, l)
	return b
}

// StreamHandler installs the h at the leaf as the WebSocket/raw-stream
// handler, consulted when an upgrade request resolves to the leaf.
func (b *Branch) StreamHandler(h StreamHandlerFunc) *Branch {
	b.mustTop().streamHandler = h
	return b
}

// Nest merges the other into the leaf of the b's base path.
//
//	NewBranch("/hello").Nest(NewBranch("/world")) // replies at /hello/world
func (b *Branch) Nest(other *Branch) *Branch {
	b.mustTop().mergeMut(other)
	return b
}

// Merge merges the other into the root of the b. Priority belongs to the b:
// exact children merge recursively; pattern children merge when an
// identical regex source exists, else queue up after the b's own; the
// variable child and the per-node handlers are taken from the other only
// when the b has none; method handlers keep the b's entry per method.
func (b *Branch) Merge(other *Branch) *Branch {
	b.mergeMut(other)
	return b
}

// mergeMut merges the other into the b in place, left priority.
func (b *Branch) mergeMut(other *Branch) {
	for base, ob := range other.exactBranches {
		if eb, ok := b.exactBranches[base]; ok {
			eb.mergeMut(ob)
		} else {
			b.exactBranches[base] = ob
		}
	}

	for _, opb := range other.patternBranches {
		merged := false
		for _, pb := range b.patternBranches {
			if pb.re.String() == opb.re.String() {
				pb.branch.mergeMut(opb.branch)
				merged = true
				break
			}
		}

		if !merged {
			b.patternBranches = append(b.patternBranches, opb)
		}
	}

	if b.variableBranch == nil {
		b.variableBranch = other.variableBranch
	}

	for m, h := range other.methodHandlers {
		if _, ok := b.methodHandlers[m]; !ok {
			b.methodHandlers[m] = h
		}
	}

	if b.unmatchedMethodHandler == nil {
		b.unmatchedMethodHandler = other.unmatchedMethodHandler
	}

	if b.defaultHandler == nil {
		b.defaultHandler = other.defaultHandler
	}

	if b.filesHandler == nil {
		b.filesHandler = other.filesHandler
	}

	if b.streamHandler == nil {
		b.streamHandler = other.streamHandler
	}
}

// mustTop returns the leaf of the b's base path. The leaf always exists for
// a branch built by the `NewBranch`, so a miss is a programming error.
func (b *Branch) mustTop() *Branch {
	top := b.top(trimLeadingSlash(b.source))
	if top == nil {
		panic(fmt.Sprintf("squall: branch base path %q not found", b.source))
	}

	return top
}

// top walks the trail down the builder tree by literal segment comparison.
func (b *Branch) top(trail string) *Branch {
	var base, rest string
	if head, tail, ok := splitPathOnce(trail); ok {
		base, rest = head, tail
	} else if trail == "" {
		return b
	} else {
		base, rest = trail, ""
	}

	if eb, ok := b.exactBranches[base]; ok {
		return eb.top(rest)
	}

	for _, pb := range b.patternBranches {
		if fmt.Sprint("{regex:", pb.re.String(), "}") == base {
			return pb.branch.top(rest)
		}
	}

	if vb := b.variableBranch; vb != nil {
		if fmt.Sprint("{:", vb.name, "}") == base {
			return vb.branch.top(rest)
		}
	}

	return nil
}

// purify freezes the b into its immutable resolution form. The builder must
// not be touched afterwards; the server calls this once on start.
func (b *Branch) purify() *pureBranch {
	pb := &pureBranch{
		exactBranches:          make(map[string]*pureBranch, len(b.exactBranches)),
		methodHandlers:         b.methodHandlers,
		unmatchedMethodHandler: b.unmatchedMethodHandler,
		defaultHandler:         b.defaultHandler,
		filesHandler:           b.filesHandler,
		streamHandler:          b.streamHandler,
		layers:                 b.layers,
	}

	for base, eb := range b.exactBranches {
		pb.exactBranches[base] = eb.purify()
	}

	for _, ptb := range b.patternBranches {
		pb.patternBranches = append(pb.patternBranches, &purePatternBranch{
			re:     ptb.re,
			branch: ptb.branch.purify(),
		})
	}

	if b.variableBranch != nil {
		pb.variableBranch = b.variableBranch.branch.purify()
	}

	return pb
}

// resolutionKind tags how a resolution was obtained.
type resolutionKind uint8

// resolution kinds
const (
	kindExact resolutionKind = iota
	kindUnmatchedMethod
	kindDefault
	kindFiles
	kindStream
)

// resolution is the outcome of a route lookup: the handler to run, the
// layers to wrap it with (root-first, outermost-first) and one variable
// indicator per consumed path segment, innermost-first.
type resolution struct {
	handler    Handler
	stream     StreamHandlerFunc
	layers     []LayerFunc
	indicators []bool
	kind       resolutionKind
}

// stamp records the resolution metadata on the req: the depth is the number
// of segments the route consumed and the variable indices are the positions,
// counted from the start of the path, where a variable or pattern segment
// bound.
func (rn *resolution) stamp(req *Request) {
	req.depth = len(rn.indicators)
	req.variableIndices = nil
	for i := range rn.indicators {
		if rn.indicators[len(rn.indicators)-1-i] {
			req.variableIndices = append(req.variableIndices, i)
		}
	}
}

type (
	// pureBranch is the immutable form of the `Branch`, shared read-only
	// across all connection goroutines for the server's lifetime.
	pureBranch struct {
		exactBranches   map[string]*pureBranch
		patternBranches []*purePatternBranch
		variableBranch  *pureBranch

		methodHandlers         map[Method]Handler
		unmatchedMethodHandler Handler
		defaultHandler         Handler
		filesHandler           Handler
		streamHandler          StreamHandlerFunc

		layers []LayerFunc
	}

	// purePatternBranch is a pattern child of a `pureBranch`.
	purePatternBranch struct {
		re     *regexp.Regexp
		branch *pureBranch
	}
)

// resolve looks the trail and method up in the pb. It returns nil when
// nothing matches; resolution is deterministic for a given frozen tree.
func (pb *pureBranch) resolve(trail string, method Method) *resolution {
	trimmed := trimLeadingSlash(trail)

	var base, rest string
	if head, tail, ok := splitPathOnce(trimmed); ok {
		base, rest = head, tail
	} else if trimmed == "" {
		// The trail ends at this node.
		switch {
		case pb.methodHandlers[method] != nil:
			return &resolution{
				handler: pb.methodHandlers[method],
				layers:  pb.layers,
				kind:    kindExact,
			}
		case pb.unmatchedMethodHandler != nil:
			return &resolution{
				handler: pb.unmatchedMethodHandler,
				layers:  pb.layers,
				kind:    kindUnmatchedMethod,
			}
		case pb.defaultHandler != nil:
			return &resolution{
				handler: pb.defaultHandler,
				layers:  pb.layers,
				kind:    kindDefault,
			}
		case pb.streamHandler != nil:
			return &resolution{
				stream: pb.streamHandler,
				layers: pb.layers,
				kind:   kindStream,
			}
		}

		return nil
	} else {
		base, rest = trimmed, ""
	}

	var rn *resolution

	isVar := true
	if eb, ok := pb.exactBranches[base]; ok {
		isVar = false
		rn = eb.resolve(rest, method)
	} else {
		for _, ptb := range pb.patternBranches {
			if ptb.re.MatchString(base) {
				rn = ptb.branch.resolve(rest, method)
				break
			}
		}

		if rn == nil && pb.variableBranch != nil {
			rn = pb.variableBranch.resolve(rest, method)
		}
	}

	if rn != nil {
		// A deeper node answered: this node contributes its layers
		// outside the deeper ones and one indicator for the segment it
		// consumed.
		rn.layers = append(append([]LayerFunc(nil), pb.layers...), rn.layers...)
		rn.indicators = append(rn.indicators, isVar)
		return rn
	}

	if hasExtension(trimmed) && pb.filesHandler != nil {
		return &resolution{
			handler: pb.filesHandler,
			layers:  pb.layers,
			kind:    kindFiles,
		}
	}

	if pb.defaultHandler != nil {
		return &resolution{
			handler: pb.defaultHandler,
			layers:  pb.layers,
			kind:    kindDefault,
		}
	}

	return nil
}

// supportedMethods reports the method set the trail would answer, or nil
// when the trail matches nothing. Endpoints backed by a default or
// unmatched-method handler claim every known method; file endpoints answer
// GET only.
func (pb *pureBranch) supportedMethods(trail string) []Method {
	trimmed := trimLeadingSlash(trail)

	var base, rest string
	if head, tail, ok := splitPathOnce(trimmed); ok {
		base, rest = head, tail
	} else if trimmed == "" {
		if pb.defaultHandler != nil || pb.unmatchedMethodHandler != nil {
			return knownMethods
		}

		if len(pb.methodHandlers) == 0 && pb.streamHandler == nil {
			return nil
		}

		ms := make([]Method, 0, len(pb.methodHandlers))
		for m := range pb.methodHandlers {
			ms = append(ms, m)
		}

		return ms
	} else {
		base, rest = trimmed, ""
	}

	var ms []Method
	if eb, ok := pb.exactBranches[base]; ok {
		ms = eb.supportedMethods(rest)
	} else {
		for _, ptb := range pb.patternBranches {
			if ptb.re.MatchString(base) {
				ms = ptb.branch.supportedMethods(rest)
				break
			}
		}

		if ms == nil && pb.variableBranch != nil {
			ms = pb.variableBranch.supportedMethods(rest)
		}
	}

	if ms == nil {
		if hasExtension(trimmed) && pb.filesHandler != nil {
			return []Method{MethodGet}
		}

		if pb.defaultHandler != nil {
			return knownMethods
		}
	}

	return ms
}

// serveFile answers with the content of the file at the name, read through
// the coffer when one is enabled. The Content-Type comes from the filename
// extension, falling back to sniffing the content itself.
func serveFile(name string, add *Additional) *Response {
	var b []byte
	var err error
	if add != nil && add.coffer != nil {
		b, err = add.coffer.asset(name)
	} else {
		b, err = readFile(name)
	}

	if err != nil {
		return NotFound()
	}

	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = sniffContentType(b)
	}

	return Ok().Header("Content-Type", ct).Body(b)
}

// sniffContentType guesses the MIME type of the b.
func sniffContentType(b []byte) string {
	return mimesniffer.Sniff(b)
}
