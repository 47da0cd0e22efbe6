package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"gatekeep.org/internal/authz"
	"gatekeep.org/internal/identity"
)

type createOrganizationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createUserRequest struct {
	Email          string `json:"email"`
	Name           string `json:"name"`
	Password       string `json:"password"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id"`
}

type createAppClientRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (a *API) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		if !a.authorize(w, r, p, authz.ActionPlatformManage, authz.Resource{Type: "organization"}) {
			return
		}
		var req createOrganizationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		org, err := a.identity.CreateOrganization(r.Context(), p, req.Name, req.Description)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/organizations/%s", org.ID))
		writeJSON(w, http.StatusCreated, org)
	case http.MethodGet:
		if !a.authorize(w, r, p, authz.ActionPlatformManage, authz.Resource{Type: "organization"}) {
			return
		}
		orgs, err := a.identity.ListOrganizations(r.Context())
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"organizations": orgs})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	parts := pathParts(r.URL.Path, "/v1/organizations/")
	if len(parts) == 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	orgID := parts[0]
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if !a.authorize(w, r, p, authz.ActionOrgManage, authz.Resource{Type: "organization", ID: orgID, OrganizationID: orgID}) {
			return
		}
		org, err := a.identity.GetOrganization(r.Context(), orgID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, org)
	case len(parts) == 2 && parts[1] == "users":
		a.handleOrganizationUsers(w, r, p, orgID)
	case len(parts) == 2 && parts[1] == "app-clients":
		a.handleOrganizationAppClients(w, r, p, orgID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleOrganizationUsers(w http.ResponseWriter, r *http.Request, p identity.Principal, orgID string) {
	res := authz.Resource{Type: "user", OrganizationID: orgID}
	switch r.Method {
	case http.MethodPost:
		if !a.authorize(w, r, p, authz.ActionOrgMembersManage, res) {
			return
		}
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.identity.RegisterUser(r.Context(), p, identity.RegisterParams{
			Email:          req.Email,
			Name:           req.Name,
			Password:       req.Password,
			Role:           req.Role,
			OrganizationID: orgID,
		})
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
		writeJSON(w, http.StatusCreated, user)
	case http.MethodGet:
		if !a.authorize(w, r, p, authz.ActionOrgMembersManage, res) {
			return
		}
		users, err := a.identity.ListUsers(r.Context(), orgID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleOrganizationAppClients(w http.ResponseWriter, r *http.Request, p identity.Principal, orgID string) {
	res := authz.Resource{Type: "app_client", OrganizationID: orgID}
	switch r.Method {
	case http.MethodPost:
		if !a.authorize(w, r, p, authz.ActionOrgMembersManage, res) {
			return
		}
		var req createAppClientRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		client, secret, err := a.identity.CreateAppClient(r.Context(), p, orgID, req.Name, req.Description)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/app-clients/%s", client.ID))
		// The secret is shown exactly once; it is not retrievable later.
		writeJSON(w, http.StatusCreated, map[string]any{
			"app_client":    client,
			"client_secret": secret,
		})
	case http.MethodGet:
		if !a.authorize(w, r, p, authz.ActionOrgMembersManage, res) {
			return
		}
		clients, err := a.identity.ListAppClients(r.Context(), orgID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"app_clients": clients})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	// Org-less registration path; used for platform admins.
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if !a.authorize(w, r, p, authz.ActionPlatformManage, authz.Resource{Type: "user"}) {
		return
	}
	user, err := a.identity.RegisterUser(r.Context(), p, identity.RegisterParams{
		Email:          req.Email,
		Name:           req.Name,
		Password:       req.Password,
		Role:           req.Role,
		OrganizationID: req.OrganizationID,
	})
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	parts := pathParts(r.URL.Path, "/v1/users/")
	if len(parts) != 2 || parts[1] != "disable" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.identity.DisableUser(r.Context(), p, parts[0]); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAppClientScoped(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	parts := pathParts(r.URL.Path, "/v1/app-clients/")
	if len(parts) == 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	clientID := parts[0]
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		client, err := a.identity.GetAppClient(r.Context(), clientID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		if !a.authorize(w, r, p, authz.ActionOrgMembersManage, authz.Resource{Type: "app_client", ID: clientID, OrganizationID: client.OrganizationID}) {
			return
		}
		writeJSON(w, http.StatusOK, client)
	case len(parts) == 2 && parts[1] == "rotate-secret":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		secret, err := a.identity.RotateClientSecret(r.Context(), p, clientID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"client_secret": secret})
	case len(parts) == 2 && parts[1] == "disable":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		if err := a.identity.DisableAppClient(r.Context(), p, clientID); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 2 && parts[1] == "subscriptions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if !a.mayViewClient(w, r, p, clientID) {
			return
		}
		subs, err := a.subs.ListByClient(r.Context(), clientID)
		if err != nil {
			handleSubscriptionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// mayViewClient allows the client itself, its org admins, and platform
// admins.
func (a *API) mayViewClient(w http.ResponseWriter, r *http.Request, p identity.Principal, clientID string) bool {
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

// authorize runs the decision engine and writes a 403 on deny. Infra
// faults become 500s, never denies.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, p identity.Principal, action string, res authz.Resource) bool {
	d, err := a.engine.Authorize(r.Context(), p, action, res)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "authorization unavailable")
		return false
	}
	if !d.Allowed {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

func pathParts(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
