package api

import (
	"net/http"

	"github.com/go-chi/jwtauth"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

// ClaimMayUpdateLibraries is the boolean JWT claim granting library installs
// and upgrades for the request.
const ClaimMayUpdateLibraries = "may_update_libraries"

// NewJWTAuth returns an HS256 verifier for secret.
func NewJWTAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// LibraryUpdateClaims copies the may_update_libraries claim of a verified
// token into the request context. Requests without the claim keep the
// configured policy.
func LibraryUpdateClaims(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, claims, err := jwtauth.FromContext(r.Context())
		if err == nil {
			if allowed, ok := claims[ClaimMayUpdateLibraries].(bool); ok {
				r = r.WithContext(h5p.WithLibraryUpdates(r.Context(), allowed))
			}
		}
		next.ServeHTTP(w, r)
	})
}
