package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const DefaultAuthCookie = "jwt"

type principalKey struct{}

// Authenticator resolves the caller from a signed token in a cookie. The
// token carries only the user id; name, email and role are read from the
// user directory on every request.
type Authenticator struct {
	Secret []byte
	Cookie string
	Users  orders.UserDirectory
	Log    *zap.Logger
}

type claims struct {
	ID string `json:"id"`
	jwt.RegisteredClaims
}

func (a *Authenticator) cookieName() string {
	if a.Cookie == "" {
		return DefaultAuthCookie
	}
	return a.Cookie
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(a.cookieName())
		if err != nil || c.Value == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "Not authorized, no token")
			return
		}

		var cl claims
		_, err = jwt.ParseWithClaims(c.Value, &cl, func(*jwt.Token) (any, error) {
			return a.Secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || cl.ID == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "Not authorized, token failed")
			return
		}

		p, err := a.Users.LookupUser(r.Context(), cl.ID)
		if err != nil {
			if !errors.Is(err, orders.ErrUserNotFound) && a.Log != nil {
				a.Log.Error("lookup user", zap.String("user_id", cl.ID), zap.Error(err))
			}
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "Not authorized, user not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireAdmin must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok || !p.IsAdmin() {
			writeError(w, http.StatusForbidden, codeForbidden, "You do not have permission to perform this action")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SignToken issues a token accepted by Middleware.
func SignToken(secret []byte, userID string) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{ID: userID})
	return t.SignedString(secret)
}

func WithPrincipal(ctx context.Context, p orders.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (orders.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(orders.Principal)
	return p, ok
}
