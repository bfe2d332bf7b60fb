package squall

// Handler is a core handler: it answers one request with one response. The
// add carries the server-wide additional context.
type Handler func(req *Request, add *Additional) *Response

// LayerFunc is a middleware layer wrapping an inner pipeline. A layer may
// call the next zero or more times, replace the request, short-circuit with
// its own response or transform the one coming back. The signature carries
// no notion of position: the same function can sit anywhere in the onion.
type LayerFunc func(req *Request, next *Pipeline, add *Additional) *Response

// StreamHandlerFunc is a raw-stream handler installed with the
// `Branch.StreamHandler`. It receives the writing half of an upgraded
// WebSocket connection and returns the reader whose callbacks the read loop
// will drive until the connection closes.
type StreamHandlerFunc func(req *Request, add *Additional, ws *WebSocketWriter) WebSocketReader

// Pipeline is a chain of layers around one core handler. A pipeline is
// assembled per request from the layer lists the resolver accumulated and is
// meant to be executed once.
type Pipeline struct {
	layer LayerFunc
	inner *Pipeline
	core  Handler
}

// newPipeline wraps the h with the layers. The layers are ordered from the
// root of the route tree inward, first-registered first, and the first one
// becomes the outermost wrap.
func newPipeline(h Handler, layers []LayerFunc) *Pipeline {
	p := &Pipeline{core: h}
	for i := len(layers) - 1; i >= 0; i-- {
		p = &Pipeline{
			layer: layers[i],
			inner: p,
		}
	}

	return p
}

// Execute runs the p for the req.
func (p *Pipeline) Execute(req *Request, add *Additional) *Response {
	if p.layer != nil {
		return p.layer(req, p.inner, add)
	}

	return p.core(req, add)
}
