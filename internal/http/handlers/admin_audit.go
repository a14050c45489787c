package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/marketplace-payments/internal/audit"
	"github.com/wolfman30/marketplace-payments/pkg/logging"
)

type auditLister interface {
	List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
}

// AdminAuditHandler serves the operator view of webhook audit records.
type AdminAuditHandler struct {
	store  auditLister
	logger *logging.Logger
}

func NewAdminAuditHandler(store auditLister, logger *logging.Logger) *AdminAuditHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminAuditHandler{store: store, logger: logger}
}

// AuditListResponse is a page of audit entries.
type AuditListResponse struct {
	Entries []audit.Entry `json:"entries"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
}

// ListWebhookAudit returns audit entries, newest first.
// GET /admin/webhooks/audit?provider=maya,paypal&event_type=webhook.reconcile_failed&since=RFC3339&until=RFC3339&limit=50&offset=0
func (h *AdminAuditHandler) ListWebhookAudit(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		jsonError(w, "audit store not configured", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{
		EventType: audit.EventType(strings.TrimSpace(q.Get("event_type"))),
	}
	for _, p := range strings.Split(q.Get("provider"), ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			filter.Providers = append(filter.Providers, p)
		}
	}

	var err error
	if filter.StartTime, err = parseTimeParam(q.Get("since")); err != nil {
		jsonError(w, "invalid since", http.StatusBadRequest)
		return
	}
	if filter.EndTime, err = parseTimeParam(q.Get("until")); err != nil {
		jsonError(w, "invalid until", http.StatusBadRequest)
		return
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil || filter.Offset < 0 {
			jsonError(w, "invalid offset", http.StatusBadRequest)
			return
		}
	}

	entries, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list webhook audit entries", "error", err)
		jsonError(w, "failed to list audit entries", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, AuditListResponse{Entries: entries, Limit: filter.Limit, Offset: filter.Offset})
}

func parseTimeParam(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
