package httpapi

import (
	"net/http"
	"strconv"

	"gatekeep.org/internal/audit"
	"gatekeep.org/internal/authz"
)

// handleAuditLogs lists audit records, newest first. Platform admins only.
func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.authorize(w, r, p, authz.ActionPlatformManage, authz.Resource{Type: "audit_record"}) {
		return
	}
	if a.auditLog == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit log not available")
		return
	}

	qv := r.URL.Query()
	q := audit.Query{
		ActorID:      qv.Get("actor_id"),
		Action:       qv.Get("action"),
		ResourceType: qv.Get("resource_type"),
		ResourceID:   qv.Get("resource_id"),
	}
	if raw := qv.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = n
	}

	records, err := a.auditLog.List(r.Context(), q)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": records})
}
