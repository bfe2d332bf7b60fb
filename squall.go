/*
Package squall implements a small HTTP/1.1 server framework with first-class
WebSocket upgrade support.

Routing is declared as a tree of branches. A branch path consists of exact
segments, pattern segments and variable segments:

	branch := squall.NewBranch("/users/{regex:^[0-9]+$}/{:name}").
		With(squall.MethodGet.To(func(req *squall.Request, add *squall.Additional) *squall.Response {
			name, _ := req.PathVar(1)
			return squall.Ok().String(name)
		}))

Exact segments beat pattern segments, pattern segments (tried in insertion
order) beat the variable segment. Branches compose with `Branch.Nest` and
`Branch.Merge`, carry middleware via `Branch.Layer` and may serve static
files, a single-page-application entry file, or a raw WebSocket stream.

A server mounts one branch tree and serves it with bounded concurrency:

	s := squall.New()
	s.Mount(branch)
	s.Serve()
*/
package squall

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"
)

// Squall is the top-level struct of this framework.
//
// It is highly recommended not to modify the value of any field of the
// `Squall` after calling the `Squall.Serve`, which will cause unpredictable
// problems.
type Squall struct {
	// AppName is the name of the web application.
	//
	// Default value: "squall"
	AppName string `mapstructure:"app_name"`

	// DebugMode indicates whether the web application is in debug mode.
	//
	// Default value: false
	DebugMode bool `mapstructure:"debug_mode"`

	// Address is the TCP address that the server listens on.
	//
	// Default value: "localhost:8080"
	Address string `mapstructure:"address"`

	// MaxConnections is the number of connections the server serves
	// concurrently. When they are saturated, further accepts wait until a
	// connection (or the WebSocket it upgraded into) finishes.
	//
	// Default value: 2000
	MaxConnections int `mapstructure:"max_connections"`

	// Timeout is the per-connection deadline for one request-response
	// cycle, covering read, handling and write. A cycle that exceeds it
	// is logged and its connection dropped.
	//
	// Default value: 15s
	Timeout time.Duration `mapstructure:"timeout"`

	// AccessLogFormat is the template of the per-request log line. "%M"
	// expands to the method, "%P" to the path, "%S" to the response
	// status and "%A" to the remote address. An empty template disables
	// access logging.
	//
	// Default value: ""
	AccessLogFormat string `mapstructure:"access_log_format"`

	// LoggerEnabled indicates whether the logger is enabled.
	//
	// Default value: false
	LoggerEnabled bool `mapstructure:"logger_enabled"`

	// LoggerFormat is the output format of the logger. It is a
	// text/template text with the "app_name", "time_rfc3339", "level",
	// "short_file", "long_file" and "line" variables available.
	//
	// Default value: `{"app_name":"{{.app_name}}","time":"{{.time_rfc3339}}","level":"{{.level}}","file":"{{.short_file}}","line":"{{.line}}"}`
	LoggerFormat string `mapstructure:"logger_format"`

	// LogFile is the path of the log file. When set, log output rotates
	// through it instead of going to the standard output.
	//
	// Default value: ""
	LogFile string `mapstructure:"log_file"`

	// WebSocketSubprotocol is the subprotocol the server requires during
	// WebSocket handshakes. When set, clients that do not offer it in
	// their Sec-WebSocket-Protocol list are rejected with a 400.
	//
	// Default value: ""
	WebSocketSubprotocol string `mapstructure:"websocket_subprotocol"`

	// MinifierEnabled indicates whether response bodies whose MIME type
	// is in the `MinifierMIMETypes` are minified on the fly.
	//
	// Default value: false
	MinifierEnabled bool `mapstructure:"minifier_enabled"`

	// MinifierMIMETypes is the list of MIME types that trigger the
	// minimization.
	//
	// Default value: ["text/html", "text/css", "application/javascript",
	// "application/json", "application/xml", "image/svg+xml"]
	MinifierMIMETypes []string `mapstructure:"minifier_mime_types"`

	// CofferEnabled indicates whether the files handlers read through the
	// in-memory asset cache instead of hitting the disk on every request.
	//
	// Default value: false
	CofferEnabled bool `mapstructure:"coffer_enabled"`

	// CofferMaxMemoryBytes is the maximum number of bytes of the runtime
	// memory allowed for the asset cache.
	//
	// Default value: 33554432
	CofferMaxMemoryBytes int `mapstructure:"coffer_max_memory_bytes"`

	// ConfigFile is the path to the configuration file that will be
	// parsed into the matching fields before starting the server.
	//
	// The ".json" extension means the configuration file is JSON-based,
	// ".toml" TOML-based, ".yaml" and ".yml" YAML-based, ".ini"
	// INI-based.
	//
	// Default value: ""
	ConfigFile string `mapstructure:"-"`

	// Shared is the application's shared value, threaded to every handler
	// through the `Additional`.
	//
	// Default value: nil
	Shared interface{} `mapstructure:"-"`

	// Key is the server's signing key. A random key is generated when it
	// is nil.
	//
	// Default value: nil
	Key []byte `mapstructure:"-"`

	// SessionCreator parses and applies sessions. Leaving it nil makes
	// the `Request.Session` fail with the `ErrNoSessionCreator`.
	//
	// Default value: nil
	SessionCreator SessionCreator `mapstructure:"-"`

	// CORS is the cross-origin policy. Leaving it nil disables CORS
	// handling entirely.
	//
	// Default value: nil
	CORS *CORS `mapstructure:"-"`

	// NotFoundHandler is the `Handler` that answers requests no route
	// matches.
	//
	// Default value: `DefaultNotFoundHandler`
	NotFoundHandler Handler `mapstructure:"-"`

	branch     *Branch
	pure       *pureBranch
	additional *Additional
	logger     *Logger
	coffer     *coffer
	sem        *semaphore.Weighted
	listener   *listener

	mutex    sync.Mutex
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	addrChan chan net.Addr
}

// New returns a new instance of the `Squall` with default field values.
func New() *Squall {
	s := &Squall{
		AppName:        "squall",
		Address:        "localhost:8080",
		MaxConnections: 2000,
		Timeout:        15 * time.Second,
		LoggerFormat: `{"app_name":"{{.app_name}}","time":"{{.time_rfc3339}}",` +
			`"level":"{{.level}}","file":"{{.short_file}}","line":"{{.line}}"}`,
		MinifierMIMETypes: []string{
			"text/html",
			"text/css",
			"application/javascript",
			"application/json",
			"application/xml",
			"image/svg+xml",
		},
		CofferMaxMemoryBytes: 32 << 20,
		NotFoundHandler:      DefaultNotFoundHandler,
		branch:               NewBranch(""),
		addrChan:             make(chan net.Addr, 1),
	}

	s.logger = newLogger(s)
	s.coffer = newCoffer(s)

	return s
}

// DefaultNotFoundHandler is the default `Handler` that answers requests no
// route matches.
func DefaultNotFoundHandler(req *Request, add *Additional) *Response {
	return NotFound()
}

// DefaultMethodNotAllowedHandler answers 405. Install it with the
// `Branch.UnmatchedMethodTo` on endpoints that should answer 405 to methods
// they do not serve; the resolver never falls back to it on its own.
func DefaultMethodNotAllowedHandler(req *Request, add *Additional) *Response {
	return MethodNotAllowed()
}

// Mount merges the b into the root of the route tree of the s.
func (s *Squall) Mount(b *Branch) *Squall {
	s.branch.Merge(b)
	return s
}

// route registers one method handler with optional route-level layers.
func (s *Squall) route(m Method, path string, h Handler, layers []LayerFunc) {
	b := NewBranch(path).With(m.To(h))
	for _, l := range layers {
		b.Layer(l)
	}

	s.branch.Merge(b)
}

// GET registers a new GET route for the path with the matching h in the
// route tree of the s with the optional route-level layers.
func (s *Squall) GET(path string, h Handler, layers ...LayerFunc) {
	s.route(MethodGet, path, h, layers)
}

// HEAD registers a new HEAD route for the path with the matching h in the
// route tree of the s with the optional route-level layers.
func (s *Squall) HEAD(path string, h Handler, layers ...LayerFunc) {
	s.route(MethodHead, path, h, layers)
}

// POST registers a new POST route for the path with the matching h in the
// route tree of the s with the optional route-level layers.
func (s *Squall) POST(path string, h Handler, layers ...LayerFunc) {
	s.route(MethodPost, path, h, layers)
}

// PUT registers a new PUT route for the path with the matching h in the
// route tree of the s with the optional route-level layers.
func (s *Squall) PUT(path string, h Handler, layers ...LayerFunc) {
	s.route(MethodPut, path, h, layers)
}

// PATCH registers a new PATCH route for the path with the matching h in the
// route tree of the s with the optional route-level layers.
func (s *Squall) PATCH(path string, h Handler, layers ...LayerFunc) {
	s.route(MethodPatch, path, h, layers)
}

// DELETE registers a new DELETE route for the path with the matching h in
// the route tree of the s with the optional route-level layers.
func (s *Squall) DELETE(path string, h Handler, layers ...LayerFunc) {
	s.route(MethodDelete, path, h, layers)
}

// OPTIONS registers a new OPTIONS route for the path with the matching h in
// the route tree of the s with the optional route-level layers.
func (s *Squall) OPTIONS(path string, h Handler, layers ...LayerFunc) {
	s.route(MethodOptions, path, h, layers)
}

// TRACE registers a new TRACE route for the path with the matching h in the
// route tree of the s with the optional route-level layers.
func (s *Squall) TRACE(path string, h Handler, layers ...LayerFunc) {
	s.route(MethodTrace, path, h, layers)
}

// CONNECT registers a new CONNECT route for the path with the matching h in
// the route tree of the s with the optional route-level layers.
func (s *Squall) CONNECT(path string, h Handler, layers ...LayerFunc) {
	s.route(MethodConnect, path, h, layers)
}

// BATCH registers a batch of routes for the methods and path with the
// matching h in the route tree of the s with the optional route-level
// layers. A nil methods means all known methods.
func (s *Squall) BATCH(methods []Method, path string, h Handler, layers ...LayerFunc) {
	if methods == nil {
		methods = knownMethods
	}

	for _, m := range methods {
		s.route(m, path, h, layers)
	}
}

// STREAM registers a new WebSocket route for the path with the matching h
// in the route tree of the s.
func (s *Squall) STREAM(path string, h StreamHandlerFunc) {
	s.branch.Merge(NewBranch(path).StreamHandler(h))
}

// FILES registers a static-file endpoint at the path serving from the root
// in the route tree of the s.
func (s *Squall) FILES(path, root string) {
	s.branch.Merge(NewBranch(path).Files(root))
}

// Serve starts the server of the s: it freezes the route tree, binds the
// listener and runs the permit-gated accept loop until an interrupt signal
// arrives or the `Squall.Shutdown` or `Squall.Close` is called. In-flight
// connections run to completion under their own deadlines.
func (s *Squall) Serve() error {
	if s.ConfigFile != "" {
		if err := s.loadConfigFile(); err != nil {
			return err
		}
	}

	if s.Key == nil {
		s.Key = make([]byte, 32)
		if _, err := rand.Read(s.Key); err != nil {
			return ErrCrypto
		}
	}

	var cof *coffer
	if s.CofferEnabled {
		cof = s.coffer
	}

	s.additional = &Additional{
		Shared:         s.Shared,
		SessionCreator: s.SessionCreator,
		Key:            s.Key,
		coffer:         cof,
	}

	s.pure = s.branch.purify()
	s.sem = semaphore.NewWeighted(int64(s.MaxConnections))

	l := newListener(s)
	if err := l.listen(s.Address); err != nil {
		return err
	}
	defer l.Close()

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	s.mutex.Lock()
	s.listener = l
	s.cancel = cancel
	s.mutex.Unlock()

	select {
	case <-s.addrChan:
	default:
	}
	s.addrChan <- l.Addr()

	// Closing the listener is what actually unblocks a pending accept.
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	if s.DebugMode {
		s.logger.Debugf("squall: serving on %v in debug mode", l.Addr())
	}

	for {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}

		conn, err := l.Accept()
		if err != nil {
			s.sem.Release(1)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}

			s.logger.Errorf("squall: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			defer conn.Close()
			s.serveConn(conn)
		}()
	}

	s.wg.Wait()

	return nil
}

// Addr returns the address the server of the s actually listens on. It
// blocks until the listener is bound, so it is safe to call right after
// starting the `Squall.Serve` in another goroutine.
func (s *Squall) Addr() net.Addr {
	addr := <-s.addrChan
	s.addrChan <- addr
	return addr
}

// Shutdown stops the accept loop of the s and waits for the in-flight
// connections to finish, or for the ctx to expire, whichever comes first.
func (s *Squall) Shutdown(ctx context.Context) error {
	s.stopAccepting()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the accept loop of the s immediately without waiting for the
// in-flight connections.
func (s *Squall) Close() error {
	s.stopAccepting()
	return nil
}

// stopAccepting cancels the accept loop and closes the listener.
func (s *Squall) stopAccepting() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.cancel != nil {
		s.cancel()
	}

	if s.listener != nil {
		s.listener.Close()
	}
}

// Logger returns the logger of the s.
func (s *Squall) Logger() *Logger {
	return s.logger
}
