package proxy

import (
	"github.com/pcf-tools/pcf-dev-proxy/internal/runtimejs"
)

// Rewriter prepends the in-page hot-reload runtime to intercepted bundles.
//
// Only the control's main bundle is rewritten, and only in hot mode; every
// other intercepted asset is served verbatim.
type Rewriter struct {
	// wsPort is the control-plane port exposed to the page.
	wsPort int
}

// NewRewriter creates a rewriter that points injected runtimes at wsPort.
//
// Parameters:
//   - wsPort: The control-plane port
//
// Returns:
//   - *Rewriter: A new rewriter instance
func NewRewriter(wsPort int) *Rewriter {
	return &Rewriter{wsPort: wsPort}
}

// Rewrite returns the bundle with the runtime configuration line and the
// runtime source prepended, in that order, ahead of the original bytes.
//
// Parameters:
//   - bundle: The original bundle bytes
//
// Returns:
//   - []byte: The rewritten bundle
func (rw *Rewriter) Rewrite(bundle []byte) []byte {
	prefix := runtimejs.Prelude(rw.wsPort) + runtimejs.Source() + "\n"
	out := make([]byte, 0, len(prefix)+len(bundle))
	out = append(out, prefix...)
	out = append(out, bundle...)
	return out
}
