package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gatekeep.org/internal/authz"
	"gatekeep.org/internal/catalog"
	"gatekeep.org/internal/identity"
	"gatekeep.org/internal/subscription"
)

type authorizeRequest struct {
	APIVersionID string `json:"api_version_id"`
	Method       string `json:"method"`
	Path         string `json:"path"`
}

type authorizeResponse struct {
	Allowed    bool           `json:"allowed"`
	Reason     string         `json:"reason,omitempty"`
	ScopesUsed []string       `json:"scopes_used,omitempty"`
	RateLimit  *rateLimitInfo `json:"rate_limit,omitempty"`
}

type rateLimitInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetAt   int64 `json:"reset_at"`
}

// handleAuthorize is the decision point a gateway consults before
// forwarding a call: it authenticates the caller (middleware), checks the
// live subscription grant for the target endpoint's scopes, then charges
// the request against the subscription's budget. Only an allowed decision
// consumes budget.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req authorizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.APIVersionID) == "" {
		writeError(w, r, http.StatusBadRequest, "api_version_id is required")
		return
	}

	ep, err := a.matchEndpoint(r, req)
	if err != nil {
		handleCatalogError(w, r, err)
		return
	}

	decision, err := a.decide(r, p, req.APIVersionID, ep)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "authorization unavailable")
		return
	}
	if !decision.Allowed {
		writeJSON(w, http.StatusForbidden, authorizeResponse{
			Allowed: false,
			Reason:  decision.Reason,
		})
		return
	}

	resp := authorizeResponse{Allowed: true, ScopesUsed: decision.ScopesUsed}
	if p.Kind == identity.KindAppClient {
		status, reason, info, err := a.chargeBudget(w, r, p, req.APIVersionID)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "rate limiter unavailable")
			return
		}
		resp.RateLimit = info
		if status != 0 {
			resp.Allowed = false
			resp.Reason = reason
			writeJSON(w, status, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// matchEndpoint resolves the target endpoint by exact method+path match
// within the version. A request naming neither method nor path is a bare
// subscription check and matches no endpoint.
func (a *API) matchEndpoint(r *http.Request, req authorizeRequest) (*catalog.Endpoint, error) {
	if strings.TrimSpace(req.Method) == "" && strings.TrimSpace(req.Path) == "" {
		return nil, nil
	}
	endpoints, err := a.catalog.ListEndpoints(r.Context(), req.APIVersionID)
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	path := strings.TrimSpace(req.Path)
	for _, ep := range endpoints {
		if ep.Active && ep.Method == method && ep.Path == path {
			return ep, nil
		}
	}
	return nil, catalog.ErrNotFound
}

// decide runs the engine once per required scope; all must allow.
func (a *API) decide(r *http.Request, p identity.Principal, versionID string, ep *catalog.Endpoint) (authz.Decision, error) {
	res := authz.Resource{
		Type:         "api_endpoint",
		APIVersionID: versionID,
	}
	if ep == nil || len(ep.RequiredScopes) == 0 {
		if ep != nil {
			res.ID = ep.ID
		}
		return a.engine.Authorize(r.Context(), p, authz.ActionAPIInvoke, res)
	}
	res.ID = ep.ID
	var last authz.Decision
	for _, scope := range ep.RequiredScopes {
		res.RequiredScope = scope
		d, err := a.engine.Authorize(r.Context(), p, authz.ActionAPIInvoke, res)
		if err != nil {
			return authz.Decision{}, err
		}
		if !d.Allowed {
			return d, nil
		}
		last.ScopesUsed = append(last.ScopesUsed, d.ScopesUsed...)
	}
	last.Allowed = true
	return last, nil
}

// chargeBudget consumes one slot from the approved subscription's budget
// and stamps X-RateLimit headers. A non-zero status means denial.
func (a *API) chargeBudget(w http.ResponseWriter, r *http.Request, p identity.Principal, versionID string) (int, string, *rateLimitInfo, error) {
	sub, err := a.subs.ActiveApproved(r.Context(), p.AppClientID, versionID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			// The subscription was revoked between the engine check and
			// here; the revocation wins.
			return http.StatusForbidden, authz.ReasonNoActiveSubscription, nil, nil
		}
		return 0, "", nil, err
	}
	// The limiter is in-process; re-seed the persisted budget so a restart
	// never falls back to the default.
	if sub.RateLimitPerMinute > 0 {
		a.limiter.SetBudget(sub.ID, sub.RateLimitPerMinute)
	}
	result, err := a.limiter.Check(r.Context(), sub.ID)
	if err != nil {
		return 0, "", nil, err
	}
	info := &rateLimitInfo{
		Limit:     result.Limit,
		Remaining: result.Remaining,
		ResetAt:   result.ResetAt.Unix(),
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	if result.Allowed {
		return 0, "", info, nil
	}
	retry := int64(result.RetryAfter / time.Second)
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
	return http.StatusTooManyRequests, "rate_limited", info, nil
}
