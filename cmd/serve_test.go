package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/forensics-cli/internal/engine"
	"github.com/sells-group/forensics-cli/internal/ledger"
	"github.com/sells-group/forensics-cli/internal/model"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	l, err := ledger.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	require.NoError(t, l.Migrate(context.Background()))

	srv := httptest.NewServer(newRouter(engine.New(l, "")))
	t.Cleanup(srv.Close)
	return srv
}

func TestServe_Health(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestServe_XRefFlow(t *testing.T) {
	srv := newTestServer(t)

	// First submission: empty ledger, no match.
	resp, err := http.Post(srv.URL+"/v1/xref", "application/json",
		strings.NewReader(`{"sample_id":"A","fingerprint":"xyz","score":0.95,"source_plugin":"web"}`))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var first model.XRefResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&first))
	assert.False(t, first.MatchFound)
	assert.Equal(t, model.ActionNone, first.Action)

	// Second submission with the same fingerprint: recurring pattern.
	resp2, err := http.Post(srv.URL+"/v1/xref", "application/json",
		strings.NewReader(`{"sample_id":"B","fingerprint":"xyz","score":0.80}`))
	require.NoError(t, err)
	defer resp2.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var second model.XRefResult
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&second))
	assert.True(t, second.MatchFound)
	assert.Equal(t, model.ActionRecurringDetected, second.Action)
	assert.Equal(t, "A", second.MatchedSampleID)
}

func TestServe_XRef_ValidationError(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/xref", "application/json",
		strings.NewReader(`{"fingerprint":"xyz","score":0.5}`))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "sample_id")
}

func TestServe_XRef_MalformedBody(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/xref", "application/json", strings.NewReader(`{not json`))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_AddRecordAndStats(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/records", "application/json",
		strings.NewReader(`{"sample_id":"s1","fingerprint":"fp","score":0.75,"source_plugin":"ocr"}`))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var added map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&added))
	assert.Equal(t, "recorded", added["status"])
	assert.Equal(t, "s1", added["sample_id"])

	resp2, err := http.Get(srv.URL + "/v1/stats")
	require.NoError(t, err)
	defer resp2.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var stats model.LedgerStats
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalRecords)
	assert.Equal(t, 1, stats.HighConfidenceRecords)
	assert.Equal(t, map[string]int{"ocr": 1}, stats.PluginDistribution)
	assert.Equal(t, model.FingerprintMatchThreshold, stats.FingerprintThreshold)
}

func TestServe_Matches(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/records", "application/json",
		strings.NewReader(`{"sample_id":"s1","fingerprint":"fingerprint-abc","score":0.5}`))
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck

	resp2, err := http.Get(srv.URL + "/v1/matches?fingerprint=fingerprint-abc&threshold=0.9")
	require.NoError(t, err)
	defer resp2.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var body struct {
		QueryFingerprint string              `json:"query_fingerprint"`
		Threshold        float64             `json:"threshold"`
		MatchesFound     int                 `json:"matches_found"`
		Matches          []model.MatchResult `json:"matches"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body))
	assert.Equal(t, "fingerprint-abc", body.QueryFingerprint)
	assert.Equal(t, 0.9, body.Threshold)
	require.Equal(t, 1, body.MatchesFound)
	assert.Equal(t, "s1", body.Matches[0].MatchedSampleID)
}

func TestServe_Matches_MissingFingerprint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/matches")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServe_Matches_NegativeThreshold(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/matches?fingerprint=fp&threshold=-1")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
func TestServe_Clear(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/records", "application/json",
		strings.NewReader(`{"sample_id":"s1","fingerprint":"fp","score":0.5}`))
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/ledger", nil)
	require.NoError(t, err)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, resp2.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body))
	assert.Equal(t, "cleared", body["status"])
	assert.Contains(t, body["message"], "cleared 1 records")

	resp3, err := http.Get(srv.URL + "/v1/stats")
	require.NoError(t, err)
	defer resp3.Body.Close() //nolint:errcheck

	var stats model.LedgerStats
	require.NoError(t, json.NewDecoder(resp3.Body).Decode(&stats))
	assert.Equal(t, 0, stats.TotalRecords)
}
