package httpapi

import (
	"fmt"
	"net/http"

	"gatekeep.org/internal/identity"
)

type requestSubscriptionRequest struct {
	AppClientID     string   `json:"app_client_id"`
	APIVersionID    string   `json:"api_version_id"`
	RequestedScopes []string `json:"requested_scopes"`
	Justification   string   `json:"justification"`
}

type approveSubscriptionRequest struct {
	GrantedScopes      []string `json:"granted_scopes"`
	RateLimitPerMinute int      `json:"rate_limit_per_minute"`
}

type denySubscriptionRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req requestSubscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !a.mayRequestFor(w, r, p, req.AppClientID) {
		return
	}
	sub, err := a.subs.Request(r.Context(), p, req.AppClientID, req.APIVersionID, req.RequestedScopes, req.Justification)
	if err != nil {
		handleSubscriptionError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/subscriptions/%s", sub.ID))
	writeJSON(w, http.StatusCreated, sub)
}

func (a *API) handleSubscriptionScoped(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	parts := pathParts(r.URL.Path, "/v1/subscriptions/")
	if len(parts) == 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	subID := parts[0]
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		sub, err := a.subs.Get(r.Context(), subID)
		if err != nil {
			handleSubscriptionError(w, r, err)
			return
		}
		if !a.mayViewClient(w, r, p, sub.AppClientID) {
			return
		}
		writeJSON(w, http.StatusOK, sub)
	case len(parts) == 2 && parts[1] == "approve":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req approveSubscriptionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		sub, err := a.subs.Approve(r.Context(), p, subID, req.GrantedScopes, req.RateLimitPerMinute)
		if err != nil {
			handleSubscriptionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	case len(parts) == 2 && parts[1] == "deny":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req denySubscriptionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		sub, err := a.subs.Deny(r.Context(), p, subID, req.Reason)
		if err != nil {
			handleSubscriptionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	case len(parts) == 2 && parts[1] == "revoke":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		sub, err := a.subs.Revoke(r.Context(), p, subID)
		if err != nil {
			handleSubscriptionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// mayRequestFor allows the app client itself or a user in the client's
// organization to file subscription requests for it.
func (a *API) mayRequestFor(w http.ResponseWriter, r *http.Request, p identity.Principal, clientID string) bool {
	if p.Kind == identity.KindAppClient && p.ID == clientID {
		return true
	}
	if p.IsPlatformAdmin() {
		return true
	}
	client, err := a.identity.GetAppClient(r.Context(), clientID)
	if err != nil {
		handleIdentityError(w, r, err)
		return false
	}
	if p.Kind == identity.KindUser && p.OrganizationID == client.OrganizationID {
		return true
	}
	writeError(w, r, http.StatusForbidden, "forbidden")
	return false
}
