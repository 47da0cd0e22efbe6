package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gatekeep.org/internal/credential"
	"gatekeep.org/internal/identity"
)

const (
	authHeader   = "Authorization"
	bearer       = "Bearer "
	apiKeyHeader = "X-API-Key"
)

var publicPaths = []string{
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/oauth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth resolves the caller into a principal: a bearer JWT for users
// and OAuth clients, or an API key for app clients. Handlers past this
// point can assume PrincipalFromContext succeeds.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
			principal, err := a.authenticateAPIKey(r, key)
			if err != nil {
				if errors.Is(err, credential.ErrAuthFailure) {
					writeError(w, r, http.StatusUnauthorized, "unauthorized")
					return
				}
				writeError(w, r, http.StatusInternalServerError, "authentication error")
				return
			}
			ctx := identity.ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		principal, err := a.identity.AuthenticateToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, identity.ErrUnauthorized) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		ctx := identity.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticateAPIKey verifies the presented key and assembles an
// app-client principal. API-key principals carry no token scopes; their
// effective scopes come from live subscription grants at decision time.
func (a *API) authenticateAPIKey(r *http.Request, key string) (identity.Principal, error) {
	owner, _, err := a.creds.Verify(r.Context(), credential.KindAPIKey, key)
	if err != nil {
		return identity.Principal{}, err
	}
	if owner.Kind != identity.KindAppClient {
		return identity.Principal{}, credential.ErrAuthFailure
	}
	return identity.Principal{
		ID:             owner.ID,
		Kind:           identity.KindAppClient,
		OrganizationID: owner.OrganizationID,
		AppClientID:    owner.ID,
	}, nil
}

// requirePrincipal returns the caller principal or writes a 401.
func requirePrincipal(w http.ResponseWriter, r *http.Request) (identity.Principal, bool) {
	p, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return identity.Principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
