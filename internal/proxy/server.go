package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"
	mitm "github.com/lqqyt2423/go-mitmproxy/proxy"

	"github.com/pcf-tools/pcf-dev-proxy/internal/ui"
)

// Options configures the MITM server.
type Options struct {
	// Port is the HTTPS listener port.
	Port int

	// ControlName is the dotted control identifier to intercept.
	ControlName string

	// ServeDir is the directory holding the control's built assets.
	ServeDir string

	// Hot enables runtime injection and CSP stripping.
	Hot bool

	// WsPort is the control-plane port the injected runtime connects to.
	WsPort int

	// CaRootPath is the directory holding the CA key pair. The MITM engine
	// loads or generates the pair there.
	CaRootPath string
}

// Server is the local HTTPS MITM proxy.
//
// Matching requests are answered from the serving directory; everything else
// passes through to its original destination.
type Server struct {
	opts     Options
	matcher  *Matcher
	resolver *Resolver
	rewriter *Rewriter

	mu    sync.Mutex
	inner *mitm.Proxy
}

// NewServer creates a MITM server for the given options.
//
// Parameters:
//   - opts: Server configuration
//
// Returns:
//   - *Server: A new server instance
//   - error: When the serving directory cannot be used
func NewServer(opts Options) (*Server, error) {
	resolver, err := NewResolver(opts.ServeDir)
	if err != nil {
		return nil, err
	}
	s := &Server{
		opts:     opts,
		matcher:  NewMatcher(opts.ControlName),
		resolver: resolver,
	}
	if opts.Hot {
		s.rewriter = NewRewriter(opts.WsPort)
	}
	return s, nil
}

// Start runs the proxy listener and blocks until it stops.
//
// A port-in-use bind failure is returned as ErrAddrInUse so the CLI can
// print a targeted remediation hint.
//
// Returns:
//   - error: The listener error, nil on orderly shutdown
func (s *Server) Start() error {
	installLogFilter()

	inner, err := mitm.NewProxy(&mitm.Options{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.opts.Port),
		StreamLargeBodies: 1024 * 1024 * 5,
		CaRootPath:        s.opts.CaRootPath,
	})
	if err != nil {
		return fmt.Errorf("failed to create proxy: %w", err)
	}
	inner.AddAddon(&interceptAddon{server: s})

	s.mu.Lock()
	s.inner = inner
	s.mu.Unlock()

	log.Debug("MITM proxy starting", "port", s.opts.Port, "control", s.opts.ControlName)
	if err := inner.Start(); err != nil {
		if isAddrInUse(err) {
			return fmt.Errorf("%w: port %d", ErrAddrInUse, s.opts.Port)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

// Shutdown stops the listener. Safe to call more than once.
//
// Parameters:
//   - ctx: Deadline for connection draining
//
// Returns:
//   - error: Any error from the underlying listener
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	inner := s.inner
	s.inner = nil
	s.mu.Unlock()

	if inner == nil {
		return nil
	}
	return inner.Shutdown(ctx)
}

// ErrAddrInUse marks a bind failure caused by another process holding the port.
var ErrAddrInUse = errors.New("address already in use")

// isAddrInUse reports whether err is a port-in-use bind failure.
func isAddrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	return strings.Contains(err.Error(), "address already in use") ||
		strings.Contains(err.Error(), "Only one usage of each socket address")
}

// interceptAddon answers matching requests from disk and mutates passthrough
// response headers in hot mode.
type interceptAddon struct {
	mitm.BaseAddon
	server *Server
}

// Request short-circuits matching requests with a local response. Assigning
// f.Response here keeps the MITM engine from dialing upstream.
func (a *interceptAddon) Request(f *mitm.Flow) {
	s := a.server
	rel, ok := s.matcher.Match(f.Request.URL.String())
	if !ok {
		return
	}

	result := s.resolver.Resolve(rel)
	switch result.Status {
	case ResolveForbidden:
		ui.PrintWarning("403  %s (path traversal blocked)", rel)
		f.Response = &mitm.Response{
			StatusCode: http.StatusForbidden,
			Header:     assetHeaders("text/plain"),
			Body:       []byte("Forbidden"),
		}

	case ResolveNotFound:
		ui.PrintWarning("404  %s (not found)", rel)
		f.Response = &mitm.Response{
			StatusCode: http.StatusNotFound,
			Header:     assetHeaders("text/plain"),
			Body:       []byte("Not Found"),
		}

	case ResolveOK:
		body := result.Bytes
		tag := ""
		if s.rewriter != nil && rel == "bundle.js" {
			body = s.rewriter.Rewrite(body)
			tag = " [+HMR]"
		}
		ui.PrintInfo("200  %s (%d KB)%s", rel, (len(body)+512)/1024, tag)
		f.Response = &mitm.Response{
			StatusCode: http.StatusOK,
			Header:     assetHeaders(result.ContentType),
			Body:       body,
		}
	}
}

// Responseheaders strips CSP headers from passthrough responses in hot mode
// so the injected runtime's WebSocket is not rejected by the host page.
func (a *interceptAddon) Responseheaders(f *mitm.Flow) {
	if !a.server.opts.Hot || f.Response == nil {
		return
	}
	f.Response.Header.Del("Content-Security-Policy")
	f.Response.Header.Del("Content-Security-Policy-Report-Only")
}

// assetHeaders builds the response headers for intercepted assets. Intercepted
// responses are never cacheable and always CORS-open so source maps and
// cross-origin hosts can fetch them.
func assetHeaders(contentType string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Access-Control-Allow-Origin", "*")
	return h
}
