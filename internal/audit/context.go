package audit

import "context"

// RequestInfo is the transport-level origin of an operation, stamped onto
// every record emitted while handling it.
type RequestInfo struct {
	RequestID  string
	SourceAddr string
}

type requestInfoKey struct{}

// ContextWithRequestInfo attaches the request origin for the recorder to
// pick up. The HTTP middleware sets this once per request.
func ContextWithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFromContext returns the request origin, if any.
func RequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info, ok
}
