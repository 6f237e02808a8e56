package obs

import (
	"context"

	"github.com/go-chi/chi/v5"
)

// RequestInfo holds labels that become known while a request is handled.
// Middleware installs one per request; handlers may fill in fields routing
// cannot see, such as the id of a freshly created session.
type RequestInfo struct {
	Route     string
	SessionID string
}

type requestInfoKey struct{}

// WithRequestInfo attaches info to ctx.
func WithRequestInfo(ctx context.Context, info *RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom returns the info attached to ctx, or nil.
func RequestInfoFrom(ctx context.Context) *RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*RequestInfo)
	return info
}

// WithRoutePattern records pattern on the attached info, attaching a new one
// when ctx carries none.
func WithRoutePattern(ctx context.Context, pattern string) context.Context {
	if info := RequestInfoFrom(ctx); info != nil {
		info.Route = pattern
		return ctx
	}
	return WithRequestInfo(ctx, &RequestInfo{Route: pattern})
}

// SetSessionID labels the current request with a checkout session id.
func SetSessionID(ctx context.Context, id string) {
	if info := RequestInfoFrom(ctx); info != nil {
		info.SessionID = id
	}
}

// RoutePatternFromContext returns the recorded route pattern, or whatever chi
// has matched so far.
func RoutePatternFromContext(ctx context.Context) string {
	if info := RequestInfoFrom(ctx); info != nil && info.Route != "" {
		return info.Route
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// resolveInfo merges the attached info with chi's routing state.
func resolveInfo(ctx context.Context) RequestInfo {
	var out RequestInfo
	if info := RequestInfoFrom(ctx); info != nil {
		out = *info
	}
	if rc := chi.RouteContext(ctx); rc != nil {
		if out.Route == "" {
			out.Route = rc.RoutePattern()
		}
		if out.SessionID == "" {
			out.SessionID = rc.URLParam("id")
		}
	}
	return out
}
