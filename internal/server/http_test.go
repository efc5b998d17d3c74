package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/RolldeoDev/Rolldeo-sub002/internal/config"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/dice"
)

const testCollection = `{
  "metadata": {"name": "Dungeon", "namespace": "test.dungeon", "specVersion": "1.0"},
  "tables": [
    {"id": "room", "entries": [
      {"value": "crypt", "sets": {"mood": "grim"}},
      {"value": "armory", "sets": {"mood": "martial"}}
    ]},
    {"id": "broken", "entries": [{"value": "{{missing}}"}]}
  ],
  "templates": [
    {"id": "describe", "pattern": "a {{room}} ({{@room.mood}})"}
  ]
}`

func newTestServer(t *testing.T) *HTTPServer {
	t.Helper()
	eng := engine.New(engine.WithSource(dice.NewSeededSource(17)))
	cfg := config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            0,
		ShutdownTimeout: time.Second,
	}
	return NewHTTPServer(cfg, eng, zaptest.NewLogger(t))
}

func doRequest(s *HTTPServer, method, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func loadTestCollection(t *testing.T, s *HTTPServer) string {
	t.Helper()
	rec := doRequest(s, http.MethodPost, "/api/collections?id=dungeon", testCollection)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["id"]
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestLoadCollection(t *testing.T) {
	s := newTestServer(t)
	id := loadTestCollection(t, s)
	assert.Equal(t, "dungeon", id)

	rec := doRequest(s, http.MethodGet, "/api/collections", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "dungeon", list[0]["id"])
	assert.Equal(t, float64(2), list[0]["tables"])
	assert.Equal(t, float64(1), list[0]["templates"])
}

func TestLoadCollection_EmptyBody(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/collections", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoadCollection_InvalidDocument(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/collections", `{"tables": [{"id": ""}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCollection_NotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/collections/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnloadCollection(t *testing.T) {
	s := newTestServer(t)
	loadTestCollection(t, s)

	rec := doRequest(s, http.MethodDelete, "/api/collections/dungeon", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(s, http.MethodDelete, "/api/collections/dungeon", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTables(t *testing.T) {
	s := newTestServer(t)
	loadTestCollection(t, s)

	rec := doRequest(s, http.MethodGet, "/api/collections/dungeon/tables", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var tables []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tables))
	require.Len(t, tables, 2)
	assert.Equal(t, "room", tables[0]["id"])
	assert.Equal(t, "simple", tables[0]["kind"])
	assert.Equal(t, float64(2), tables[0]["entries"])
}

func TestRollTable(t *testing.T) {
	s := newTestServer(t)
	loadTestCollection(t, s)

	rec := doRequest(s, http.MethodPost, "/api/collections/dungeon/tables/room/roll", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Text string `json:"text"`
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, []string{"crypt", "armory"}, resp.Text)
	assert.Equal(t, "table", resp.Type)
}

func TestRollTemplate_WithTrace(t *testing.T) {
	s := newTestServer(t)
	loadTestCollection(t, s)

	rec := doRequest(s, http.MethodPost, "/api/collections/dungeon/templates/describe/roll?trace=1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Text         string            `json:"text"`
		Placeholders map[string]string `json:"placeholders"`
		Trace        *json.RawMessage  `json:"trace"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Regexp(t, `^a (crypt \(grim\)|armory \(martial\))$`, resp.Text)
	assert.NotEmpty(t, resp.Placeholders["room"])
	require.NotNil(t, resp.Trace, "trace=1 must include the evaluation tree")
	assert.Contains(t, string(*resp.Trace), `"type":"root"`)
}

func TestRollTable_UnknownIs404(t *testing.T) {
	s := newTestServer(t)
	loadTestCollection(t, s)

	rec := doRequest(s, http.MethodPost, "/api/collections/dungeon/tables/ghost/roll", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRollTable_EvaluationFailureIs404WithPartialTrace(t *testing.T) {
	s := newTestServer(t)
	loadTestCollection(t, s)

	// The "broken" table references a table that does not exist; the
	// failure surfaces mid-evaluation with the trace recorded so far.
	rec := doRequest(s, http.MethodPost, "/api/collections/dungeon/tables/broken/roll?trace=1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotNil(t, resp["trace"], "failed traced rolls carry the partial tree")
	assert.NotEmpty(t, resp["message"])
}

func TestRollTable_RecursionIs422(t *testing.T) {
	s := newTestServer(t)
	cyclic := `{
	  "metadata": {"name": "Cyclic", "specVersion": "1.0"},
	  "tables": [
	    {"id": "ping", "entries": [{"value": "{{pong}}"}]},
	    {"id": "pong", "entries": [{"value": "{{ping}}"}]}
	  ]
	}`
	rec := doRequest(s, http.MethodPost, "/api/collections?id=cyclic", cyclic)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/collections/cyclic/tables/ping/roll", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestResolveImports(t *testing.T) {
	s := newTestServer(t)
	loot := `{
	  "metadata": {"name": "Loot", "namespace": "test.loot", "specVersion": "1.0"},
	  "tables": [{"id": "gem", "entries": [{"value": "ruby"}]}]
	}`
	main := `{
	  "metadata": {"name": "Main", "namespace": "test.main", "specVersion": "1.0"},
	  "imports": [{"path": "test.loot", "alias": "loot"}],
	  "templates": [{"id": "find", "pattern": "{{loot.gem}}"}]
	}`

	rec := doRequest(s, http.MethodPost, "/api/collections?id=loot-col", loot)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doRequest(s, http.MethodPost, "/api/collections?id=main-col", main)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/collections/resolve-imports",
		`{"paths": {"test.loot": "loot-col"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/collections/main-col/templates/find/roll", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "ruby")
}

func TestRollTemplate_CapturesInResponse(t *testing.T) {
	s := newTestServer(t)
	doc := `{
	  "metadata": {"name": "C", "specVersion": "1.0"},
	  "tables": [{"id": "gem", "entries": [{"value": "ruby", "sets": {"rarity": "rare"}}]}],
	  "templates": [{"id": "hoard", "pattern": "{{2*gem >> $loot}}"}]
	}`
	rec := doRequest(s, http.MethodPost, "/api/collections?id=c", doc)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/collections/c/templates/hoard/roll", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Captures map[string][]struct {
			Value string            `json:"value"`
			Sets  map[string]string `json:"sets"`
		} `json:"captures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Captures["loot"], 2)
	assert.Equal(t, "ruby", resp.Captures["loot"][0].Value)
	assert.Equal(t, "rare", resp.Captures["loot"][0].Sets["rarity"])
}
