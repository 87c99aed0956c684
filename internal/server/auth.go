package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"pursuit/internal/authz"
)

type AuthConfig struct {
	JWTSecret string
	Logger    *log.Logger
}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

type jwtClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username,omitempty"`
	AuthorizedParty   string `json:"azp,omitempty"`
	TenantID          string `json:"tid,omitempty"`
}

// authenticateJWT validates a bearer token and maps its claims onto the
// principal the authorization engine works from. A token with a
// preferred_username is a delegated user; one without is an application
// caller identified by azp and audience.
func authenticateJWT(token string, secret string) (authz.Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return authz.Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return authz.Principal{}, err
	}
	if !parsed.Valid {
		return authz.Principal{}, errors.New("invalid token")
	}
	audience := ""
	if len(claims.Audience) > 0 {
		audience = claims.Audience[0]
	}
	p := authz.Principal{
		PreferredUsername: claims.PreferredUsername,
		Audience:          audience,
		AuthorizedParty:   claims.AuthorizedParty,
		TenantID:          claims.TenantID,
	}
	if !p.IsDelegated() && p.AuthorizedParty == "" {
		return authz.Principal{}, errors.New("token carries neither preferred_username nor azp")
	}
	return p, nil
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}

			header := strings.TrimSpace(req.Header.Get("Authorization"))
			if header == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			token, ok := bearerToken(header)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			principal, err := authenticateJWT(token, cfg.JWTSecret)
			if err != nil {
				cfg.logger().Printf("token rejected: %v", err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			ctx := authz.WithPrincipal(req.Context(), principal)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
