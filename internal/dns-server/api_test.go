package dnsserver

import (
	"bytes"
	"encoding/json"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type apiHarness struct {
	router http.Handler
	queue  *QueueManager
}

func newAPIHarness(t *testing.T) apiHarness {
	t.Helper()
	m := NewMetrics()
	qm := NewQueueManager(NewMemoryStorage(), m)
	srv := NewServer(testDomain, qm, WithMetrics(m))
	return apiHarness{router: srv.Router(), queue: qm}
}

func (h apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func uploadOf(f fixture) UploadRequest {
	return UploadRequest{MessageID: f.id, Chunks: f.chunks, Manifest: f.manifest}
}

func TestAPI_Upload(t *testing.T) {
	h := newAPIHarness(t)
	f := newFixture(t, 600)

	rec := h.do(t, http.MethodPost, "/upload", uploadOf(f))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "stored", resp.Status)
	assert.Equal(t, f.id, resp.MessageID)
	assert.Equal(t, len(f.chunks), resp.Chunks)

	msg, err := h.queue.Storage().GetMessage(f.id)
	require.NoError(t, err)
	assert.Equal(t, f.chunks, msg.Chunks)

	rec = h.do(t, http.MethodPost, "/upload", uploadOf(f))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_UploadRejects(t *testing.T) {
	f := newFixture(t, 100)

	badManifest := uploadOf(f)
	badManifest.Manifest = "nope"

	missingID := uploadOf(f)
	missingID.MessageID = ""

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", "{not json"},
		{"missing id", missingID},
		{"bad manifest", badManifest},
		{"no chunks", map[string]any{"message_id": f.id, "manifest": f.manifest}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPIHarness(t)
			rec := h.do(t, http.MethodPost, "/upload", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestAPI_MessageStatus(t *testing.T) {
	h := newAPIHarness(t)
	f := newFixture(t, 100)
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/upload", uploadOf(f)).Code)

	rec := h.do(t, http.MethodGet, "/messages/"+f.id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status MessageStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, f.id, status.MessageID)
	assert.Equal(t, "new", status.Status)
	assert.Equal(t, len(f.chunks), status.TotalChunks)

	_, err := h.queue.ConsumeMessages("alice", 0, 0)
	require.NoError(t, err)

	rec = h.do(t, http.MethodGet, "/messages/"+f.id, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "delivered to 1 clients", status.Status)
	require.Len(t, status.Consumers, 1)
	assert.Equal(t, "alice", status.Consumers[0].ClientID)

	rec = h.do(t, http.MethodGet, "/messages/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_StatusAndMetrics(t *testing.T) {
	h := newAPIHarness(t)
	f := newFixture(t, 100)
	require.Equal(t, http.StatusCreated, h.do(t, http.MethodPost, "/upload", uploadOf(f)).Code)

	rec := h.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, testDomain, status.Domain)
	assert.Equal(t, 1, status.Storage.TotalMessages)
	assert.Equal(t, 1, status.Storage.NewMessages)

	rec = h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "simulacra_uploads_total 1")
	assert.True(t, strings.Contains(body, `simulacra_messages{state="new"} 1`), body)
}

func TestAPI_Health(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPI_NoMetricsRouteWithoutMetrics(t *testing.T) {
	srv := NewServer(testDomain, NewQueueManager(NewMemoryStorage(), nil))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
