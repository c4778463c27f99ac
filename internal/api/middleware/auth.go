package middleware

import (
	"booklend/internal/config"
	"booklend/internal/domain/identity"
	"booklend/internal/pkg/apperrors"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// BorrowerHeader names the caller when token auth is switched off. Development only.
const BorrowerHeader = "X-Borrower-ID"

const tokenIssuer = "booklend"

// Claims identify a borrower. The subject is the borrower id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for who, valid for ttl from now.
func IssueToken(cfg config.AuthConfig, who identity.Identity, now time.Time) (string, time.Time, error) {
	if cfg.JWTSecret == "" {
		return "", time.Time{}, fmt.Errorf("%w: jwt secret is not configured", apperrors.ErrInternalServer)
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	expiresAt := now.Add(ttl)

	claims := Claims{
		Role: string(who.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(who.BorrowerID, 10),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: failed to sign token: %w", apperrors.ErrInternalServer, err)
	}
	return signed, expiresAt, nil
}

// AuthMiddleware resolves the caller into an identity.Identity on the request context.
// With auth disabled the borrower id is read from BorrowerHeader and requests without it
// stay anonymous; the workflow rejects anonymous mutations itself.
func AuthMiddleware(cfg config.AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "AuthMiddleware")

	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if raw := r.Header.Get(BorrowerHeader); raw != "" {
					id, err := strconv.ParseInt(raw, 10, 64)
					if err != nil || id <= 0 {
						logger.WarnContext(r.Context(), "Ignoring malformed borrower header", "value", raw)
					} else {
						r = r.WithContext(identity.WithIdentity(r.Context(), identity.New(id, identity.RoleUser)))
					}
				}
				next.ServeHTTP(w, r)
			})
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			who, err := identityFromRequest(r, cfg.JWTSecret)
			if err != nil {
				logger.WarnContext(r.Context(), "Rejected request", "path", r.URL.Path, "reason", err.Error())
				writeJSONError(w, http.StatusUnauthorized, apperrors.CodeUnauthenticated, "Unauthorized")
				return
			}

			logger.DebugContext(r.Context(), "Authenticated request", "borrower_id", who.BorrowerID, "role", who.Role)
			next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), who)))
		})
	}
}

func identityFromRequest(r *http.Request, secret string) (identity.Identity, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return identity.Identity{}, errors.New("missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return identity.Identity{}, errors.New("invalid Authorization header format")
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(parts[1], &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return identity.Identity{}, fmt.Errorf("invalid token: %w", err)
	}

	borrowerID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || borrowerID <= 0 {
		return identity.Identity{}, errors.New("token subject is not a borrower id")
	}
	return identity.New(borrowerID, identity.Role(claims.Role)), nil
}
