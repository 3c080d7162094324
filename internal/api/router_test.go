package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/models"
	"github.com/engramdev/engram/internal/store"
)

func newTestServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := engine.New(db, engine.Options{MaxActiveConversations: 3, Logger: logger})
	srv := httptest.NewServer(NewRouter(svc, apiKey, nil, logger))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestConversationEndpoints(t *testing.T) {
	srv := newTestServer(t, "")

	resp := doJSON(t, http.MethodPost, srv.URL+"/conversations", models.AddConversationRequest{Topic: "payments bug"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[struct {
		Conversation models.Conversation `json:"conversation"`
	}](t, resp)
	id := created.Conversation.ID
	require.NotEmpty(t, id)

	resp = doJSON(t, http.MethodPost, srv.URL+"/conversations/"+id+"/messages", models.AppendMessageRequest{
		Role: models.RoleUser, Content: "the webhook keeps failing",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	msg := decodeBody[models.Message](t, resp)
	assert.Equal(t, 1, msg.Sequence)

	resp = doJSON(t, http.MethodGet, srv.URL+"/conversations/recent", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	recent := decodeBody[[]models.Conversation](t, resp)
	require.Len(t, recent, 1)
	assert.Equal(t, 1, recent[0].MessageCount)

	resp = doJSON(t, http.MethodGet, srv.URL+"/conversations/search?q=webhook", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	matches := decodeBody[[]models.ConversationMatch](t, resp)
	assert.Len(t, matches, 1)

	resp = doJSON(t, http.MethodPost, srv.URL+"/conversations/"+id+"/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/conversations/"+id+"/messages", models.AppendMessageRequest{
		Role: models.RoleUser, Content: "too late",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/conversations/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPatternEndpoints(t *testing.T) {
	srv := newTestServer(t, "")

	resp := doJSON(t, http.MethodPost, srv.URL+"/patterns/observe", models.ObservePatternRequest{
		Name: "retry-on-timeout", Category: models.CategoryWorkflow, Confidence: 0.9,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	p := decodeBody[models.Pattern](t, resp)
	assert.LessOrEqual(t, p.Confidence, 0.50)

	resp = doJSON(t, http.MethodPost, srv.URL+"/patterns/"+p.ID+"/outcome", models.RecordOutcomeRequest{Success: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/patterns/search?q=retry", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	search := decodeBody[models.SearchPatternsResponse](t, resp)
	assert.Equal(t, models.OutcomeReuse, search.Outcome)
	assert.Len(t, search.Results, 1)

	resp = doJSON(t, http.MethodGet, srv.URL+"/patterns/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[models.PatternStats](t, resp)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.SearchReuses)

	resp = doJSON(t, http.MethodPost, srv.URL+"/patterns/observe", models.ObservePatternRequest{
		Name: "x", Category: "astrology", Confidence: 0.5,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRoutingAndAnomalyEndpoints(t *testing.T) {
	srv := newTestServer(t, "")

	resp := doJSON(t, http.MethodPost, srv.URL+"/routing/evaluate", models.EvaluateRoutingRequest{
		Confidence: 0.98, Occurrences: 1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decision := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "ANOMALY", decision["safety_level"])
	assert.Equal(t, "BLOCKED", decision["action"])

	resp = doJSON(t, http.MethodGet, srv.URL+"/anomalies/?status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	anomalies := decodeBody[[]models.Anomaly](t, resp)
	require.Len(t, anomalies, 1)

	reviewURL := fmt.Sprintf("%s/anomalies/%s/review", srv.URL, anomalies[0].ID)
	resp = doJSON(t, http.MethodPost, reviewURL, models.ReviewAnomalyRequest{
		Status: models.AnomalyResolved, Notes: "confirmed",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, reviewURL, models.ReviewAnomalyRequest{Status: models.AnomalyDismissed})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/anomalies/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[models.AnomalyStats](t, resp)
	assert.Equal(t, 1, stats.Total)

	resp = doJSON(t, http.MethodPost, srv.URL+"/routing/evaluate", models.EvaluateRoutingRequest{
		Confidence: 1.4, Occurrences: 1,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBearerAuthEndToEnd(t *testing.T) {
	srv := newTestServer(t, "secret-key")

	// Health stays open.
	resp := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/conversations/recent", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/conversations/recent", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret-key")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)
}

func TestAdminGuardEndpoints(t *testing.T) {
	srv := newTestServer(t, "")

	resp := doJSON(t, http.MethodGet, srv.URL+"/admin/guards", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	guards := decodeBody[[]map[string]any](t, resp)
	require.Len(t, guards, 2)
	assert.Equal(t, "tier1", guards[0]["store"])
	assert.Equal(t, "IDLE", guards[0]["state"])

	resp = doJSON(t, http.MethodPost, srv.URL+"/admin/guards/tier2/clear-halt", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/admin/guards/tier9/clear-halt", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
