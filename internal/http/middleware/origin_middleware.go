package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/sandeepkv93/session-security-engine/internal/http/response"
	"github.com/sandeepkv93/session-security-engine/internal/observability"
)

// OriginGuard rejects state-changing browser requests whose Origin is
// neither the request host nor an allowed CORS origin. Requests without an
// Origin header (non-browser clients) pass.
func OriginGuard(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if safeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := allowed[origin]; ok {
				next.ServeHTTP(w, r)
				return
			}
			if u, err := url.Parse(origin); err == nil && u.Host != "" && strings.EqualFold(u.Host, r.Host) {
				next.ServeHTTP(w, r)
				return
			}
			observability.Audit(r, "origin_rejected", "origin", origin)
			response.Error(w, r, http.StatusForbidden, "Forbidden")
		})
	}
}

func safeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}
