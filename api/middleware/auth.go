package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/payrecon/api/responses"
	pkgAuth "github.com/angelmondragon/payrecon/pkg/auth"
	"github.com/angelmondragon/payrecon/pkg/config"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/outbox"
)

const bearerScheme = "bearer"

var errNoBearer = errors.New("missing bearer credentials")

// Auth accepts access tokens minted by the identity service. The payer's id
// becomes the request's user, the outbox actor, and a log field.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, err := bearerToken(r.Header.Get("Authorization"))
			if err != nil {
				rejectToken(w, r, logg, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				rejectToken(w, r, logg, tokenProblem(err), pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx = WithUserID(ctx, claims.UserID)
			ctx = outbox.WithUserActor(ctx, claims.UserID)
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from an Authorization header. A bare token
// without the scheme is accepted for older mobile clients.
func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errNoBearer
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found {
		if strings.EqualFold(header, bearerScheme) {
			return "", errNoBearer
		}
		return header, nil
	}
	if !strings.EqualFold(scheme, bearerScheme) {
		return "", errNoBearer
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errNoBearer
	}
	return token, nil
}

// tokenProblem maps a parse failure to the RFC 6750 error_description.
func tokenProblem(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenInvalidAudience), errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "token not issued for this service"
	default:
		return "token invalid"
	}
}

func rejectToken(w http.ResponseWriter, r *http.Request, logg *logger.Logger, problem string, err error) {
	challenge := `Bearer realm="payrecon"`
	if problem != "" {
		challenge += `, error="invalid_token", error_description="` + problem + `"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	responses.WriteError(r.Context(), logg, w, err)
}
