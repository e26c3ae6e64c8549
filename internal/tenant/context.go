package tenant

import (
	"context"
	"net/http"
)

type ctxKey struct{}

// ContextWithResolution attaches res for downstream handlers.
func ContextWithResolution(ctx context.Context, res Resolution) context.Context {
	return context.WithValue(ctx, ctxKey{}, res)
}

// FromContext returns the attached resolution, or a "none" resolution.
func FromContext(ctx context.Context) (Resolution, bool) {
	if ctx == nil {
		return Resolution{Source: SourceNone}, false
	}
	res, ok := ctx.Value(ctxKey{}).(Resolution)
	if !ok {
		return Resolution{Source: SourceNone}, false
	}
	return res, true
}

// Propagate rewrites the tenant headers of r with res and attaches res to its context.
// Any inbound X-Tenant-ID is replaced so handlers never see an unresolved value.
func Propagate(r *http.Request, res Resolution) *http.Request {
	r = r.WithContext(ContextWithResolution(r.Context(), res))
	r.Header.Del(HeaderTenantID)
	if res.HasTenant() {
		r.Header.Set(HeaderTenantID, res.TenantID)
	}
	r.Header.Set(HeaderTenantSource, string(res.Source))
	return r
}
