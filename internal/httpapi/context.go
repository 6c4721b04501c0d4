package httpapi

import (
	"context"
	"net/http"
)

// serverBaseCtx is canceled when the process shuts down, so in-flight
// completions end with it. Defaults to Background.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level context handlers derive from.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// requestContext is canceled when either the request or the process ends,
// and after chatTimeout when one is set. cancel must be called.
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	if chatTimeout <= 0 {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeout(ctx, chatTimeout)
	return tctx, func() { tcancel(); cancel() }
}

// joinContexts returns a context canceled when either a or b is done.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
