package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/marketplace-payments/internal/audit"
	"github.com/wolfman30/marketplace-payments/pkg/logging"
)

type stubAuditLister struct {
	entries []audit.Entry
	err     error
	got     audit.Filter
}

func (s *stubAuditLister) List(_ context.Context, filter audit.Filter) ([]audit.Entry, error) {
	s.got = filter
	return s.entries, s.err
}

func TestListWebhookAudit_ParsesFilter(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &stubAuditLister{entries: []audit.Entry{{
		ID:        "a1",
		EventType: audit.EventUnknownWebhook,
		Provider:  "paypal",
		CreatedAt: created,
	}}}
	h := NewAdminAuditHandler(store, logging.Default())

	req := httptest.NewRequest(http.MethodGet,
		"/admin/webhooks/audit?provider=Maya,%20paypal&event_type=webhook.unknown_event&since=2026-03-01T00:00:00Z&limit=20&offset=40", nil)
	rec := httptest.NewRecorder()
	h.ListWebhookAudit(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"maya", "paypal"}, store.got.Providers)
	assert.Equal(t, audit.EventUnknownWebhook, store.got.EventType)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), store.got.StartTime.UTC())
	assert.True(t, store.got.EndTime.IsZero())
	assert.Equal(t, 20, store.got.Limit)
	assert.Equal(t, 40, store.got.Offset)

	var resp AuditListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "a1", resp.Entries[0].ID)
}

func TestListWebhookAudit_EmptyResultIsArray(t *testing.T) {
	h := NewAdminAuditHandler(&stubAuditLister{}, nil)
	rec := httptest.NewRecorder()
	h.ListWebhookAudit(rec, httptest.NewRequest(http.MethodGet, "/admin/webhooks/audit", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entries":[]`)
}

func TestListWebhookAudit_BadParams(t *testing.T) {
	cases := []string{
		"/admin/webhooks/audit?since=yesterday",
		"/admin/webhooks/audit?until=2026-13-01",
		"/admin/webhooks/audit?limit=abc",
		"/admin/webhooks/audit?offset=-1",
	}
	for _, target := range cases {
		t.Run(target, func(t *testing.T) {
			h := NewAdminAuditHandler(&stubAuditLister{}, nil)
			rec := httptest.NewRecorder()
			h.ListWebhookAudit(rec, httptest.NewRequest(http.MethodGet, target, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListWebhookAudit_StoreError(t *testing.T) {
	h := NewAdminAuditHandler(&stubAuditLister{err: errors.New("db down")}, nil)
	rec := httptest.NewRecorder()
	h.ListWebhookAudit(rec, httptest.NewRequest(http.MethodGet, "/admin/webhooks/audit", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to list audit entries")
}

func TestListWebhookAudit_NoStore(t *testing.T) {
	h := NewAdminAuditHandler(nil, nil)
	rec := httptest.NewRecorder()
	h.ListWebhookAudit(rec, httptest.NewRequest(http.MethodGet, "/admin/webhooks/audit", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
