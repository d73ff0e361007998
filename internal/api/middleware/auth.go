package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dgrijalva/jwt-go"
)

type contextKey string

const (
	userIDKey contextKey = "user_id"
	emailKey  contextKey = "email"
	roleKey   contextKey = "role"
)

// RoleAdmin is the role claim of operators allowed to control the reminder
// processor.
const RoleAdmin = "admin"

// Claims are the JWT claims identifying the caller. Subject is the user ID.
type Claims struct {
	jwt.StandardClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Auth verifies HS256 bearer tokens. Tokens are issued elsewhere; this
// service only reads the caller identity from them.
type Auth struct {
	secret []byte
	issuer string
}

// NewAuth creates the token verifier. An empty issuer accepts any issuer.
func NewAuth(secret, issuer string) *Auth {
	return &Auth{secret: []byte(secret), issuer: issuer}
}

// Parse validates a signed token and returns its claims.
func (a *Auth) Parse(tokenString string) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	return claims, nil
}

// Sign issues a token for claims. It is used by tests and local tooling.
func (a *Auth) Sign(claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Middleware rejects requests without a valid token with 401 and stores the
// caller identity in the request context. The token may also be passed as
// the "token" query parameter, which browsers need for websocket upgrades.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			WriteError(w, http.StatusUnauthorized, ErrUnauthorized, "Authentication required")
			return
		}
		claims, err := a.Parse(tokenString)
		if err != nil {
			log.Debugw("Rejected token", "path", r.URL.Path, "error", err)
			WriteError(w, http.StatusUnauthorized, ErrUnauthorized, "Invalid or expired token")
			return
		}
		ctx := WithUser(r.Context(), claims.Subject, claims.Email)
		next.ServeHTTP(w, r.WithContext(WithRole(ctx, claims.Role)))
	})
}

// RequireRole rejects authenticated callers without role with 403. It must
// run after Middleware.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if Role(r.Context()) != role {
				log.Infow("Rejected request without role", "path", r.URL.Path, "user_id", UserID(r.Context()), "role", role)
				WriteError(w, http.StatusForbidden, ErrForbidden, "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// WithUser returns a context carrying the caller identity.
func WithUser(ctx context.Context, userID, email string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, emailKey, email)
}

// UserID returns the authenticated user ID, or "" outside authenticated routes.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// Email returns the caller's email claim.
func Email(ctx context.Context) string {
	email, _ := ctx.Value(emailKey).(string)
	return email
}

// WithRole returns a context carrying the caller role.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

// Role returns the caller's role claim.
func Role(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}
