package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/authz"
	"gatekeep.org/internal/catalog"
	"gatekeep.org/internal/credential"
	"gatekeep.org/internal/identity"
	"gatekeep.org/internal/ratelimit"
	"gatekeep.org/internal/store/memory"
	"gatekeep.org/internal/subscription"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "bootstrap-password"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	sink    *memory.AuditSink
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	st := memory.New()
	seedAdmin(t, st)
	return newTestAPIOver(t, st)
}

// newTestAPIOver builds a full server over an existing store, standing in
// for a process start against already-persisted state.
func newTestAPIOver(t *testing.T, st *memory.Store) *apiClient {
	t.Helper()

	sink := memory.NewAuditSink()
	recorder := audit.NewRecorder(sink)

	creds, err := credential.NewService(st.Credentials(), identity.NewDirectory(st), recorder, "test-hash-key")
	if err != nil {
		t.Fatalf("credential.NewService: %v", err)
	}
	tokens, err := identity.NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("identity.NewTokenService: %v", err)
	}
	idSvc, err := identity.NewService(st, creds, tokens, recorder)
	if err != nil {
		t.Fatalf("identity.NewService: %v", err)
	}
	cat, err := catalog.NewService(st, recorder)
	if err != nil {
		t.Fatalf("catalog.NewService: %v", err)
	}
	limiter := ratelimit.NewSlidingWindow()
	subs, err := subscription.NewService(st.Subscriptions(), cat, limiter, recorder)
	if err != nil {
		t.Fatalf("subscription.NewService: %v", err)
	}
	engine, err := authz.NewEngine(subs, recorder)
	if err != nil {
		t.Fatalf("authz.NewEngine: %v", err)
	}

	api := New(Config{
		Identity:      idSvc,
		Catalog:       cat,
		Subscriptions: subs,
		Credentials:   creds,
		Engine:        engine,
		Limiter:       limiter,
		AuditLog:      sink,
		Version:       "test",
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), sink: sink, t: t}
}

// seedAdmin bootstraps the platform admin, the way cmd/migrate seeds one.
func seedAdmin(t *testing.T, st *memory.Store) {
	t.Helper()
	hash, err := identity.HashPassword(adminPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC()
	if err := st.Users(ctx).Create(ctx, &identity.User{
		ID: "admin-1", Email: adminEmail, Name: "Bootstrap Admin",
		PasswordHash: hash, Role: identity.RolePlatformAdmin,
		Active: true, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	return c.do(http.MethodGet, path, nil, headers)
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		t.Fatalf("status %d, want %d (body: %v)", resp.StatusCode, want, body)
	}
}

func (c *apiClient) login(email, password string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]string{"email": email, "password": password}, nil)
	requireStatus(c.t, resp, http.StatusOK)
	var out struct {
		Token identity.TokenPair `json:"token"`
	}
	decodeBody(c.t, resp, &out)
	return "Bearer " + out.Token.AccessToken
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": token}
}

func TestPublicEndpoints(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil)
	requireStatus(t, resp, http.StatusOK)
	var health map[string]any
	decodeBody(t, resp, &health)
	if health["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", health)
	}

	resp = c.get("/readyz", nil)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/v1/info", nil)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestProtectedPathsRequireAuth(t *testing.T) {
	c := newTestAPI(t)

	for _, path := range []string{"/v1/organizations", "/v1/products", "/v1/subscriptions", "/v1/authorize"} {
		resp := c.post(path, map[string]string{}, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without credentials, got %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := c.get("/v1/organizations", map[string]string{"Authorization": "Bearer not-a-token"})
	requireStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestLogin(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/auth/login", map[string]string{"email": adminEmail, "password": "wrong"}, nil)
	requireStatus(t, resp, http.StatusUnauthorized)
	var errBody map[string]any
	decodeBody(t, resp, &errBody)
	if errBody["error"] != "invalid credentials" {
		t.Fatalf("login failure must stay opaque, got %v", errBody["error"])
	}

	resp = c.post("/v1/auth/login", map[string]string{"email": adminEmail, "password": adminPassword}, nil)
	requireStatus(t, resp, http.StatusOK)
	var out struct {
		Token identity.TokenPair `json:"token"`
		User  identity.User      `json:"user"`
	}
	decodeBody(t, resp, &out)
	if out.Token.AccessToken == "" || out.Token.RefreshToken == "" {
		t.Fatalf("login must return both tokens")
	}
	if out.User.PasswordHash != "" {
		t.Fatalf("password hash leaked in the login response")
	}

	resp = c.get("/v1/auth/login", nil)
	requireStatus(t, resp, http.StatusMethodNotAllowed)
	if allow := resp.Header.Get("Allow"); allow != http.MethodPost {
		t.Fatalf("unexpected Allow header: %q", allow)
	}
	resp.Body.Close()
}

func TestRefreshFlow(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/auth/login", map[string]string{"email": adminEmail, "password": adminPassword}, nil)
	requireStatus(t, resp, http.StatusOK)
	var login struct {
		Token identity.TokenPair `json:"token"`
	}
	decodeBody(t, resp, &login)

	resp = c.post("/v1/auth/refresh", map[string]string{"refresh_token": login.Token.RefreshToken}, nil)
	requireStatus(t, resp, http.StatusOK)
	var refreshed struct {
		Token identity.TokenPair `json:"token"`
	}
	decodeBody(t, resp, &refreshed)
	if refreshed.Token.RefreshToken == login.Token.RefreshToken {
		t.Fatalf("refresh must rotate the token")
	}

	// The old refresh token is dead.
	resp = c.post("/v1/auth/refresh", map[string]string{"refresh_token": login.Token.RefreshToken}, nil)
	requireStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

// controlPlane drives the admin workflow shared by the data-plane tests:
// org, app client, published version with a scoped endpoint, approved
// subscription, and an API key for the client.
type controlPlane struct {
	adminToken string
	clientID   string // app client resource id
	oauthID    string // public client_id
	secret     string
	versionID  string
	apiKey     string
	subID      string
}

func setupControlPlane(t *testing.T, c *apiClient, budget int) *controlPlane {
	t.Helper()
	cp := &controlPlane{adminToken: c.login(adminEmail, adminPassword)}
	hdr := authHeaders(cp.adminToken)

	resp := c.post("/v1/organizations", map[string]string{"name": "acme"}, hdr)
	requireStatus(t, resp, http.StatusCreated)
	var org identity.Organization
	decodeBody(t, resp, &org)

	resp = c.post("/v1/organizations/"+org.ID+"/app-clients", map[string]string{"name": "billing-bot"}, hdr)
	requireStatus(t, resp, http.StatusCreated)
	var clientOut struct {
		AppClient    identity.AppClient `json:"app_client"`
		ClientSecret string             `json:"client_secret"`
	}
	decodeBody(t, resp, &clientOut)
	cp.clientID = clientOut.AppClient.ID
	cp.oauthID = clientOut.AppClient.ClientID
	cp.secret = clientOut.ClientSecret

	resp = c.post("/v1/products", map[string]string{"organization_id": org.ID, "name": "orders"}, hdr)
	requireStatus(t, resp, http.StatusCreated)
	var product catalog.APIProduct
	decodeBody(t, resp, &product)

	resp = c.post("/v1/products/"+product.ID+"/scopes", map[string]string{"name": "orders.read"}, hdr)
	requireStatus(t, resp, http.StatusCreated)
	resp.Body.Close()
	resp = c.post("/v1/products/"+product.ID+"/scopes", map[string]string{"name": "orders.write"}, hdr)
	requireStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = c.post("/v1/products/"+product.ID+"/versions", map[string]string{"version": "v1", "base_path": "/orders/v1"}, hdr)
	requireStatus(t, resp, http.StatusCreated)
	var version catalog.APIVersion
	decodeBody(t, resp, &version)
	cp.versionID = version.ID

	resp = c.post("/v1/versions/"+version.ID+"/endpoints", map[string]any{
		"method": "GET", "path": "/orders", "required_scopes": []string{"orders.read"},
	}, hdr)
	requireStatus(t, resp, http.StatusCreated)
	resp.Body.Close()
	resp = c.post("/v1/versions/"+version.ID+"/endpoints", map[string]any{
		"method": "POST", "path": "/orders", "required_scopes": []string{"orders.write"},
	}, hdr)
	requireStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = c.post("/v1/versions/"+version.ID+"/publish", nil, hdr)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.post("/v1/subscriptions", map[string]any{
		"app_client_id":    cp.clientID,
		"api_version_id":   version.ID,
		"requested_scopes": []string{"orders.read"},
		"justification":    "integration tests",
	}, hdr)
	requireStatus(t, resp, http.StatusCreated)
	var sub subscription.Subscription
	decodeBody(t, resp, &sub)
	cp.subID = sub.ID

	resp = c.post("/v1/subscriptions/"+sub.ID+"/approve", map[string]any{
		"granted_scopes": []string{"orders.read"}, "rate_limit_per_minute": budget,
	}, hdr)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.post("/v1/api-keys", map[string]any{"app_client_id": cp.clientID, "name": "gateway key"}, hdr)
	requireStatus(t, resp, http.StatusCreated)
	var keyOut struct {
		APIKey string `json:"api_key"`
	}
	decodeBody(t, resp, &keyOut)
	cp.apiKey = keyOut.APIKey
	return cp
}

func TestAuthorizeAllowAndRateLimit(t *testing.T) {
	c := newTestAPI(t)
	cp := setupControlPlane(t, c, 2)
	hdr := map[string]string{"X-API-Key": cp.apiKey}
	body := map[string]string{"api_version_id": cp.versionID, "method": "GET", "path": "/orders"}

	resp := c.post("/v1/authorize", body, hdr)
	requireStatus(t, resp, http.StatusOK)
	if resp.Header.Get("X-RateLimit-Limit") != "2" {
		t.Fatalf("unexpected X-RateLimit-Limit: %q", resp.Header.Get("X-RateLimit-Limit"))
	}
	if resp.Header.Get("X-RateLimit-Remaining") != "1" {
		t.Fatalf("unexpected X-RateLimit-Remaining: %q", resp.Header.Get("X-RateLimit-Remaining"))
	}
	var decision authorizeResponse
	decodeBody(t, resp, &decision)
	if !decision.Allowed {
		t.Fatalf("expected allow, got %+v", decision)
	}
	if len(decision.ScopesUsed) != 1 || decision.ScopesUsed[0] != "orders.read" {
		t.Fatalf("unexpected scopes_used: %v", decision.ScopesUsed)
	}
	if decision.RateLimit == nil || decision.RateLimit.Limit != 2 {
		t.Fatalf("unexpected rate_limit payload: %+v", decision.RateLimit)
	}

	resp = c.post("/v1/authorize", body, hdr)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// Third call exceeds the per-minute budget.
	resp = c.post("/v1/authorize", body, hdr)
	requireStatus(t, resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("429 must carry Retry-After")
	}
	decodeBody(t, resp, &decision)
	if decision.Allowed || decision.Reason != "rate_limited" {
		t.Fatalf("unexpected decision on 429: %+v", decision)
	}
}

func TestAuthorizeDenies(t *testing.T) {
	c := newTestAPI(t)
	cp := setupControlPlane(t, c, 100)
	hdr := map[string]string{"X-API-Key": cp.apiKey}

	// Scope not granted: the subscription holds orders.read only.
	resp := c.post("/v1/authorize", map[string]string{
		"api_version_id": cp.versionID, "method": "POST", "path": "/orders",
	}, hdr)
	requireStatus(t, resp, http.StatusForbidden)
	var decision authorizeResponse
	decodeBody(t, resp, &decision)
	if decision.Allowed || decision.Reason != authz.ReasonScopeNotGranted {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	// Unknown endpoint.
	resp = c.post("/v1/authorize", map[string]string{
		"api_version_id": cp.versionID, "method": "DELETE", "path": "/orders",
	}, hdr)
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	// Bad API key.
	resp = c.post("/v1/authorize", map[string]string{
		"api_version_id": cp.versionID, "method": "GET", "path": "/orders",
	}, map[string]string{"X-API-Key": "gk_invalid"})
	requireStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestAuthorizeSeesRevocationImmediately(t *testing.T) {
	c := newTestAPI(t)
	cp := setupControlPlane(t, c, 100)
	keyHdr := map[string]string{"X-API-Key": cp.apiKey}
	body := map[string]string{"api_version_id": cp.versionID, "method": "GET", "path": "/orders"}

	resp := c.post("/v1/authorize", body, keyHdr)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.post("/v1/subscriptions/"+cp.subID+"/revoke", nil, authHeaders(cp.adminToken))
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.post("/v1/authorize", body, keyHdr)
	requireStatus(t, resp, http.StatusForbidden)
	var decision authorizeResponse
	decodeBody(t, resp, &decision)
	if decision.Allowed || decision.Reason != authz.ReasonNoActiveSubscription {
		t.Fatalf("revocation must deny the very next check, got %+v", decision)
	}
}

func TestApprovedBudgetSurvivesRestart(t *testing.T) {
	st := memory.New()
	seedAdmin(t, st)
	c := newTestAPIOver(t, st)
	cp := setupControlPlane(t, c, 1)

	// Same store, fresh server and limiter: the persisted budget, not the
	// default, must be enforced.
	c2 := newTestAPIOver(t, st)
	hdr := map[string]string{"X-API-Key": cp.apiKey}
	body := map[string]string{"api_version_id": cp.versionID, "method": "GET", "path": "/orders"}

	resp := c2.post("/v1/authorize", body, hdr)
	requireStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("X-RateLimit-Limit"); got != "1" {
		t.Fatalf("budget lost across restart: X-RateLimit-Limit = %q, want \"1\"", got)
	}
	resp.Body.Close()

	resp = c2.post("/v1/authorize", body, hdr)
	requireStatus(t, resp, http.StatusTooManyRequests)
	resp.Body.Close()
}

func TestOAuthClientCredentials(t *testing.T) {
	c := newTestAPI(t)
	cp := setupControlPlane(t, c, 100)

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", cp.oauthID)
	form.Set("client_secret", cp.secret)

	postForm := func(values url.Values) *http.Response {
		req, err := http.NewRequest(http.MethodPost, c.baseURL+"/v1/oauth/token", strings.NewReader(values.Encode()))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := c.client.Do(req)
		if err != nil {
			t.Fatalf("do request: %v", err)
		}
		return resp
	}

	resp := postForm(form)
	requireStatus(t, resp, http.StatusOK)
	var token oauthTokenResponse
	decodeBody(t, resp, &token)
	if token.AccessToken == "" || token.TokenType != "Bearer" {
		t.Fatalf("unexpected token response: %+v", token)
	}
	if token.Scope != "orders.read" {
		t.Fatalf("token scope should default to the granted set, got %q", token.Scope)
	}

	// The bearer token works against the decision endpoint.
	resp = c.post("/v1/authorize", map[string]string{
		"api_version_id": cp.versionID, "method": "GET", "path": "/orders",
	}, authHeaders("Bearer "+token.AccessToken))
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// Requesting a scope outside the granted set is invalid_scope.
	form.Set("scope", "orders.write")
	resp = postForm(form)
	requireStatus(t, resp, http.StatusBadRequest)
	var oauthErr map[string]any
	decodeBody(t, resp, &oauthErr)
	if oauthErr["error"] != "invalid_scope" {
		t.Fatalf("unexpected oauth error: %v", oauthErr)
	}

	// Wrong secret is invalid_client.
	form.Del("scope")
	form.Set("client_secret", "wrong")
	resp = postForm(form)
	requireStatus(t, resp, http.StatusUnauthorized)
	decodeBody(t, resp, &oauthErr)
	if oauthErr["error"] != "invalid_client" {
		t.Fatalf("unexpected oauth error: %v", oauthErr)
	}
}

func TestDeveloperCannotManagePlatform(t *testing.T) {
	c := newTestAPI(t)
	adminToken := c.login(adminEmail, adminPassword)
	hdr := authHeaders(adminToken)

	resp := c.post("/v1/organizations", map[string]string{"name": "acme"}, hdr)
	requireStatus(t, resp, http.StatusCreated)
	var org identity.Organization
	decodeBody(t, resp, &org)

	resp = c.post("/v1/organizations/"+org.ID+"/users", map[string]string{
		"email": "dev@example.com", "name": "Dev", "password": "pw12345678", "role": identity.RoleDeveloper,
	}, hdr)
	requireStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	devToken := c.login("dev@example.com", "pw12345678")

	resp = c.post("/v1/organizations", map[string]string{"name": "rogue"}, authHeaders(devToken))
	requireStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = c.post("/v1/products", map[string]string{"organization_id": org.ID, "name": "rogue"}, authHeaders(devToken))
	requireStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestRequestIDPropagation(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", map[string]string{"X-Request-Id": "req-abc"})
	requireStatus(t, resp, http.StatusOK)
	if got := resp.Header.Get("X-Request-Id"); got != "req-abc" {
		t.Fatalf("inbound request id should be echoed, got %q", got)
	}
	resp.Body.Close()

	resp = c.get("/healthz", nil)
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("a request id should be generated when absent")
	}
	resp.Body.Close()
}

func TestAuditRecordsCarryRequestOrigin(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/auth/login",
		map[string]string{"email": adminEmail, "password": "wrong"},
		map[string]string{"X-Request-Id": "req-origin-1"})
	requireStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	var found bool
	for _, rec := range c.sink.Records() {
		if rec.Action != "auth.login" || rec.RequestID != "req-origin-1" {
			continue
		}
		found = true
		if rec.SourceAddr == "" {
			t.Fatalf("audit record missing source address: %+v", rec)
		}
	}
	if !found {
		t.Fatalf("no login audit record carried the request id")
	}
}

func TestAuditLogListing(t *testing.T) {
	c := newTestAPI(t)
	adminToken := c.login(adminEmail, adminPassword)
	hdr := authHeaders(adminToken)

	// Two failed logins and one org creation give the trail something
	// to filter on.
	for i := 0; i < 2; i++ {
		resp := c.post("/v1/auth/login", map[string]string{"email": adminEmail, "password": "wrong"}, nil)
		requireStatus(t, resp, http.StatusUnauthorized)
		resp.Body.Close()
	}
	resp := c.post("/v1/organizations", map[string]string{"name": "acme"}, hdr)
	requireStatus(t, resp, http.StatusCreated)
	var org identity.Organization
	decodeBody(t, resp, &org)

	resp = c.get("/v1/audit-logs?action=auth.login", hdr)
	requireStatus(t, resp, http.StatusOK)
	var listing struct {
		Records []audit.Record `json:"audit_logs"`
	}
	decodeBody(t, resp, &listing)
	if len(listing.Records) < 2 {
		t.Fatalf("expected at least two login records, got %d", len(listing.Records))
	}
	for _, rec := range listing.Records {
		if rec.Action != "auth.login" {
			t.Fatalf("filter leaked record with action %q", rec.Action)
		}
	}

	// Newest first, and the limit caps the page.
	resp = c.get("/v1/audit-logs?limit=1", hdr)
	requireStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &listing)
	if len(listing.Records) != 1 {
		t.Fatalf("expected one record with limit=1, got %d", len(listing.Records))
	}
	all := c.sink.Records()
	if got, want := listing.Records[0].ID, all[len(all)-1].ID; got != want {
		t.Fatalf("limit=1 should return the newest record: got %s want %s", got, want)
	}

	resp = c.get("/v1/audit-logs?limit=nope", hdr)
	requireStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	// The trail is admin-only.
	resp = c.post("/v1/organizations/"+org.ID+"/users", map[string]string{
		"email": "auditor@example.com", "name": "Aud", "password": "pw12345678", "role": identity.RoleDeveloper,
	}, hdr)
	requireStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	devToken := c.login("auditor@example.com", "pw12345678")
	resp = c.get("/v1/audit-logs", authHeaders(devToken))
	requireStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestSecurityHeaders(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("missing nosniff header, got %q", got)
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("missing frame options header, got %q", got)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	c := newTestAPI(t)

	// Unauthenticated callers never learn whether a route exists.
	resp := c.get("/v2/unknown", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	token := c.login(adminEmail, adminPassword)
	resp = c.get("/v2/unknown", authHeaders(token))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
