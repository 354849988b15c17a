package httpapi

import (
	"context"
	"time"

	"github.com/go-chi/cors"
)

const (
	defaultMaxBodyBytes int64 = 1 << 20
	defaultOfferTimeout       = 15 * time.Second
)

// Process-level settings, configured once by the command before NewMux.
var (
	maxBodyBytes  = defaultMaxBodyBytes
	offerTimeout  = defaultOfferTimeout
	serverBaseCtx = context.Background()
	// corsOpts is nil while CORS is disabled.
	corsOpts *cors.Options
)

// SetMaxBodyBytes bounds JSON and SDP request bodies; n <= 0 restores 1 MiB.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		n = defaultMaxBodyBytes
	}
	maxBodyBytes = n
}

// SetOfferTimeout bounds how long POST /webrtc/{peer} may take to answer;
// d <= 0 restores the default.
func SetOfferTimeout(d time.Duration) {
	if d <= 0 {
		d = defaultOfferTimeout
	}
	offerTimeout = d
}

// SetBaseContext installs the process context; handlers that outlive a
// quick response (SDP negotiation) are canceled when it is. nil resets it.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// SetCORSOptions enables or disables CORS. Empty methods and headers fall
// back to the ones the API uses.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	if !enabled {
		corsOpts = nil
		return
	}
	if len(methods) == 0 {
		methods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	if len(headers) == 0 {
		headers = []string{"Accept", "Content-Type", "X-Request-Id", "X-Log-Level"}
	}
	corsOpts = &cors.Options{
		AllowedOrigins: append([]string(nil), origins...),
		AllowedMethods: append([]string(nil), methods...),
		AllowedHeaders: append([]string(nil), headers...),
		ExposedHeaders: []string{"Location"},
		MaxAge:         300,
	}
}

// withBase derives a context from the request that is also canceled when
// the process base context is.
func withBase(req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(req)
	base := serverBaseCtx
	stop := context.AfterFunc(base, func() { cancel(context.Cause(base)) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}
