package httpapi

import (
	"fmt"
	"net/http"

	"gatekeep.org/internal/authz"
	"gatekeep.org/internal/catalog"
	"gatekeep.org/internal/identity"
)

type createProductRequest struct {
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
}

type createVersionRequest struct {
	Version     string `json:"version"`
	BasePath    string `json:"base_path"`
	Description string `json:"description"`
}

type createScopeRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createEndpointRequest struct {
	Method         string   `json:"method"`
	Path           string   `json:"path"`
	Summary        string   `json:"summary"`
	RequiredScopes []string `json:"required_scopes"`
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req createProductRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if !a.authorize(w, r, p, authz.ActionCatalogManage, authz.Resource{Type: "api_product", OrganizationID: req.OrganizationID}) {
			return
		}
		prod, err := a.catalog.CreateProduct(r.Context(), req.OrganizationID, req.Name, req.Description)
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/products/%s", prod.ID))
		writeJSON(w, http.StatusCreated, prod)
	case http.MethodGet:
		orgID := r.URL.Query().Get("organization_id")
		if orgID == "" {
			writeError(w, r, http.StatusBadRequest, "organization_id is required")
			return
		}
		products, err := a.catalog.ListProducts(r.Context(), orgID)
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleProductScoped(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	parts := pathParts(r.URL.Path, "/v1/products/")
	if len(parts) == 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	productID := parts[0]
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		prod, err := a.catalog.GetProduct(r.Context(), productID)
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, prod)
	case len(parts) == 2 && parts[1] == "versions":
		a.handleProductVersions(w, r, p, productID)
	case len(parts) == 2 && parts[1] == "scopes":
		a.handleProductScopes(w, r, p, productID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleProductVersions(w http.ResponseWriter, r *http.Request, p identity.Principal, productID string) {
	switch r.Method {
	case http.MethodPost:
		if !a.authorizeCatalog(w, r, p, productID) {
			return
		}
		var req createVersionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		ver, err := a.catalog.CreateVersion(r.Context(), productID, req.Version, req.BasePath, req.Description)
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/versions/%s", ver.ID))
		writeJSON(w, http.StatusCreated, ver)
	case http.MethodGet:
		versions, err := a.catalog.ListVersions(r.Context(), productID)
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleProductScopes(w http.ResponseWriter, r *http.Request, p identity.Principal, productID string) {
	switch r.Method {
	case http.MethodPost:
		if !a.authorizeCatalog(w, r, p, productID) {
			return
		}
		var req createScopeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		scope, err := a.catalog.AddScope(r.Context(), productID, req.Name, req.Description)
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, scope)
	case http.MethodGet:
		scopes, err := a.catalog.ListScopes(r.Context(), productID)
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"scopes": scopes})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleVersionScoped(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	parts := pathParts(r.URL.Path, "/v1/versions/")
	if len(parts) == 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	versionID := parts[0]
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		ver, err := a.catalog.GetVersion(r.Context(), versionID)
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ver)
	case len(parts) == 2 && parts[1] == "publish":
		a.handleVersionTransition(w, r, p, versionID, "publish")
	case len(parts) == 2 && parts[1] == "deprecate":
		a.handleVersionTransition(w, r, p, versionID, "deprecate")
	case len(parts) == 2 && parts[1] == "endpoints":
		a.handleVersionEndpoints(w, r, p, versionID)
	case len(parts) == 2 && parts[1] == "subscriptions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		if !a.authorizeVersion(w, r, p, versionID, authz.ActionSubscriptionDecide) {
			return
		}
		subs, err := a.subs.ListByVersion(r.Context(), versionID)
		if err != nil {
			handleSubscriptionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleVersionTransition(w http.ResponseWriter, r *http.Request, p identity.Principal, versionID, op string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.authorizeVersion(w, r, p, versionID, authz.ActionCatalogManage) {
		return
	}
	var (
		ver *catalog.APIVersion
		err error
	)
	switch op {
	case "publish":
		ver, err = a.catalog.Publish(r.Context(), versionID, p.ID)
	case "deprecate":
		ver, err = a.catalog.Deprecate(r.Context(), versionID, p.ID)
	}
	if err != nil {
		handleCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ver)
}

func (a *API) handleVersionEndpoints(w http.ResponseWriter, r *http.Request, p identity.Principal, versionID string) {
	switch r.Method {
	case http.MethodPost:
		if !a.authorizeVersion(w, r, p, versionID, authz.ActionCatalogManage) {
			return
		}
		var req createEndpointRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		ep, err := a.catalog.AddEndpoint(r.Context(), versionID, req.Method, req.Path, req.Summary, req.RequiredScopes)
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, ep)
	case http.MethodGet:
		endpoints, err := a.catalog.ListEndpoints(r.Context(), versionID)
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"endpoints": endpoints})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// authorizeCatalog resolves the product's owning organization and runs
// the catalog.manage check against it.
func (a *API) authorizeCatalog(w http.ResponseWriter, r *http.Request, p identity.Principal, productID string) bool {
	prod, err := a.catalog.GetProduct(r.Context(), productID)
	if err != nil {
		handleCatalogError(w, r, err)
		return false
	}
	return a.authorize(w, r, p, authz.ActionCatalogManage, authz.Resource{
		Type:           "api_product",
		ID:             prod.ID,
		OrganizationID: prod.OrganizationID,
	})
}

// authorizeVersion resolves the version's owning organization through its
// product and runs the given action check.
func (a *API) authorizeVersion(w http.ResponseWriter, r *http.Request, p identity.Principal, versionID, action string) bool {
	ver, err := a.catalog.GetVersion(r.Context(), versionID)
	if err != nil {
		handleCatalogError(w, r, err)
		return false
	}
	prod, err := a.catalog.GetProduct(r.Context(), ver.ProductID)
	if err != nil {
		handleCatalogError(w, r, err)
		return false
	}
	return a.authorize(w, r, p, action, authz.Resource{
		Type:           "api_version",
		ID:             ver.ID,
		OrganizationID: prod.OrganizationID,
	})
}
