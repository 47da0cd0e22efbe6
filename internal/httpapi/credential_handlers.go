package httpapi

import (
	"net/http"
	"time"

	"gatekeep.org/internal/credential"
	"gatekeep.org/internal/identity"
)

type issueAPIKeyRequest struct {
	AppClientID string `json:"app_client_id"`
	Name        string `json:"name"`
	TTLSeconds  int64  `json:"ttl_seconds"`
}

func (a *API) handleAPIKeys(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req issueAPIKeyRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if !a.mayViewClient(w, r, p, req.AppClientID) {
			return
		}
		cred, plaintext, err := a.creds.Issue(r.Context(), credential.IssueParams{
			Kind:    credential.KindAPIKey,
			OwnerID: req.AppClientID,
			Name:    req.Name,
			TTL:     time.Duration(req.TTLSeconds) * time.Second,
			Actor:   p.ID,
		})
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		// The key is shown exactly once; only its prefix is listable later.
		writeJSON(w, http.StatusCreated, map[string]any{
			"credential": cred,
			"api_key":    plaintext,
		})
	case http.MethodGet:
		ownerID := r.URL.Query().Get("app_client_id")
		if ownerID == "" {
			writeError(w, r, http.StatusBadRequest, "app_client_id is required")
			return
		}
		if !a.mayViewClient(w, r, p, ownerID) {
			return
		}
		creds, err := a.creds.ListByOwner(r.Context(), ownerID)
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"credentials": creds})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAPIKeyScoped(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	parts := pathParts(r.URL.Path, "/v1/api-keys/")
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	credID := parts[0]
	if !a.mayManageCredential(w, r, p, credID) {
		return
	}
	switch parts[1] {
	case "rotate":
		repl, plaintext, err := a.creds.Rotate(r.Context(), credID, p.ID)
		if err != nil {
			handleCredentialError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"credential": repl,
			"api_key":    plaintext,
		})
	case "revoke":
		if err := a.creds.Revoke(r.Context(), credID, p.ID); err != nil {
			handleCredentialError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// mayManageCredential resolves the credential's owner and applies the
// same visibility rule as listing.
func (a *API) mayManageCredential(w http.ResponseWriter, r *http.Request, p identity.Principal, credID string) bool {
	cred, err := a.creds.Get(r.Context(), credID)
	if err != nil {
		handleCredentialError(w, r, err)
		return false
	}
	if cred.OwnerKind == identity.KindAppClient {
		return a.mayViewClient(w, r, p, cred.OwnerID)
	}
	// User-owned credentials (refresh tokens) are managed by their owner
	// or a platform admin.
	if p.IsPlatformAdmin() || (p.Kind == identity.KindUser && p.ID == cred.OwnerID) {
		return true
	}
	writeError(w, r, http.StatusForbidden, "forbidden")
	return false
}
