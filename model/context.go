package model

import "context"

// RequestContext identifies the caller of one authenticated dashboard
// request. Sessions are owned by SubjectID; Token is forwarded to the
// reporting API when user-token forwarding is on. It is not mutated after
// the auth middleware builds it.
type RequestContext struct {
	SubjectID     string
	Email         string
	Roles         []string
	Token         string
	CorrelationID string
	TraceID       string
}

type contextKey struct{}

// WithRequestContext attaches rctx to ctx.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom returns the RequestContext in ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// SubjectFrom returns the caller's subject id, or "" outside a request.
func SubjectFrom(ctx context.Context) string {
	if rctx := RequestContextFrom(ctx); rctx != nil {
		return rctx.SubjectID
	}
	return ""
}
