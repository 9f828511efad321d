package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fixhaven/fixhaven-api/internal/identity"
)

// accessClaims is the token payload issued by the identity service.
// The role claim decides which side of the marketplace the caller is
// on; there is exactly one role per token.
type accessClaims struct {
	Role  string `json:"role"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Authenticate verifies the HMAC-signed bearer token and resolves the
// caller into a single identity. Requests without a valid token are
// rejected; optional-auth routes should not be behind this middleware.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "authentication disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")

			claims := accessClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			kind, ok := roleToKind(claims.Role)
			if !ok || claims.Subject == "" {
				http.Error(w, "invalid token claims", http.StatusUnauthorized)
				return
			}

			ident := identity.Identity{
				Kind:  kind,
				ID:    claims.Subject,
				Email: claims.Email,
			}
			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), ident)))
		})
	}
}

// RequireKind restricts a route to the given identity kinds. Must run
// after Authenticate.
func RequireKind(kinds ...identity.Kind) func(http.Handler) http.Handler {
	allowed := make(map[identity.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		allowed[k] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := identity.FromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[ident.Kind]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin restricts a route to admin identities.
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireKind(identity.KindAdmin)
}

func roleToKind(role string) (identity.Kind, bool) {
	switch role {
	case "customer":
		return identity.KindCustomer, true
	case "provider":
		return identity.KindProvider, true
	case "admin":
		return identity.KindAdmin, true
	default:
		return "", false
	}
}
