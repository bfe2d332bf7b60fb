package squall

// Group is a set of sub-routes under a shared path prefix with shared
// layers. It is registration sugar over the `Branch.Nest`: every route added
// through a group lands in the server's tree under the group's prefix, with
// the group's layers applied before any route-level ones.
type Group struct {
	s      *Squall
	prefix string
	layers []LayerFunc
}

// Group returns a new instance of the `Group` with the path prefix and the
// optional group-level layers.
func (s *Squall) Group(prefix string, layers ...LayerFunc) *Group {
	return &Group{
		s:      s,
		prefix: prefix,
		layers: layers,
	}
}

// Group returns a sub-group of the g with the additional prefix and layers.
func (g *Group) Group(prefix string, layers ...LayerFunc) *Group {
	return g.s.Group(g.prefix+prefix, append(g.combined(), layers...)...)
}

// GET registers a new GET route under the g's prefix.
func (g *Group) GET(path string, h Handler, layers ...LayerFunc) {
	g.add(MethodGet, path, h, layers)
}

// POST registers a new POST route under the g's prefix.
func (g *Group) POST(path string, h Handler, layers ...LayerFunc) {
	g.add(MethodPost, path, h, layers)
}

// PUT registers a new PUT route under the g's prefix.
func (g *Group) PUT(path string, h Handler, layers ...LayerFunc) {
	g.add(MethodPut, path, h, layers)
}

// PATCH registers a new PATCH route under the g's prefix.
func (g *Group) PATCH(path string, h Handler, layers ...LayerFunc) {
	g.add(MethodPatch, path, h, layers)
}

// DELETE registers a new DELETE route under the g's prefix.
func (g *Group) DELETE(path string, h Handler, layers ...LayerFunc) {
	g.add(MethodDelete, path, h, layers)
}

// STREAM registers a new WebSocket route under the g's prefix.
func (g *Group) STREAM(path string, h StreamHandlerFunc) {
	g.s.STREAM(g.prefix+path, h)
}

// FILES registers a static-file endpoint under the g's prefix.
func (g *Group) FILES(path, root string) {
	g.s.FILES(g.prefix+path, root)
}

// add registers one route with the g's prefix and layers applied.
func (g *Group) add(m Method, path string, h Handler, layers []LayerFunc) {
	g.s.route(m, g.prefix+path, h, append(g.combined(), layers...))
}

// combined returns a copy of the g's layers, so appends by callers cannot
// leak into routes registered earlier.
func (g *Group) combined() []LayerFunc {
	return append([]LayerFunc(nil), g.layers...)
}
