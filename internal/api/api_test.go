package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/nih-sparc/sparc-client-go/internal/client"
	"github.com/nih-sparc/sparc-client-go/internal/database"
	"github.com/nih-sparc/sparc-client-go/internal/services/transport"
)

const solverPath = "/osparc/v0/solvers/simcore%2Fservices%2Fcomp%2Fitis%2Fsleeper/releases/2.1.6"

// upstream fakes SciCrunch, Pennsieve discover and o2sparc on one server,
// each under its own path prefix.
type upstream struct {
	*httptest.Server

	mu       sync.Mutex
	searches []string
	progress int
}

func newUpstream(t *testing.T) *upstream {
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch path := r.URL.EscapedPath(); {
		case path == "/scicrunch/SPARC_Algolia_pr/_search" && r.Method == http.MethodGet:
			if r.URL.Query().Get("key") != "test-key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"hits":{"total":{"value":1},"hits":[{"_id":"76"}]}}`)
		case path == "/scicrunch/SPARC_Algolia_pr/_search":
			body, _ := io.ReadAll(r.Body)
			u.searches = append(u.searches, string(body))
			_, _ = io.WriteString(w, `{"hits":{"total":{"value":0},"hits":[]}}`)
		case path == "/pennsieve/discover/datasets":
			_, _ = io.WriteString(w, `{"limit":10,"offset":0,"totalCount":1,"datasets":[{"id":76,"name":"Stomach scaffold","version":2}]}`)
		case path == "/pennsieve/discover/search/files":
			_, _ = io.WriteString(w, `{"totalCount":1,"files":[{"name":"`+r.URL.Query().Get("query")+`","datasetId":76,"fileType":"XML"}]}`)
		case path == "/osparc/v0/meta":
			_, _ = io.WriteString(w, `{"name":"osparc","version":"0.5.0"}`)
		case path == "/osparc/v0/me":
			_, _ = io.WriteString(w, `{"login":"key"}`)
		case path == solverPath:
			_, _ = io.WriteString(w, `{"id":"simcore/services/comp/itis/sleeper","version":"2.1.6"}`)
		case path == solverPath+"/jobs" && r.Method == http.MethodPost:
			_, _ = io.WriteString(w, `{"id":"job-1","name":"sleeper"}`)
		case path == solverPath+"/jobs/job-1:start":
			_, _ = io.WriteString(w, `{"job_id":"job-1","state":"PENDING"}`)
		case path == solverPath+"/jobs/job-1:inspect":
			st := map[string]any{"job_id": "job-1", "state": "STARTED", "progress": u.progress}
			if u.progress == 100 {
				st["state"] = "SUCCESS"
				st["stopped_at"] = time.Now()
			}
			_ = json.NewEncoder(w).Encode(st)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(u.Close)
	return u
}

func newTestRouter(t *testing.T, token string) (*gin.Engine, *upstream) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	for _, env := range []string{"O2SPARC_HOST", "O2SPARC_USERNAME", "O2SPARC_PASSWORD", "SCICRUNCH_API_KEY"} {
		t.Setenv(env, "")
	}

	up := newUpstream(t)
	cfgPath := filepath.Join(t.TempDir(), "config.ini")
	cfg := "[global]\ndefault_profile = ci\n\n[ci]\n" +
		"pennsieve_profile_name = ci\n" +
		"scicrunch_api_key = test-key\n" +
		"scicrunch_host = " + up.URL + "/scicrunch\n" +
		"pennsieve_host = " + up.URL + "/pennsieve\n" +
		"o2sparc_host = " + up.URL + "/osparc\n" +
		"o2sparc_username = key\n" +
		"o2sparc_password = secret\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	c, err := client.New(context.Background(), cfgPath,
		client.WithConnect(false),
		client.WithTransport(transport.Options{RetryMax: -1}),
	)
	require.NoError(t, err)

	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := gin.New()
	r.Use(RequestID(), NewTokenValidator(token).Middleware())
	SetupRoutes(r, NewGateway(c, database.NewJobs(db), nil))
	return r, up
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := do(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ok", decodeBody(t, w)["status"])
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	r, _ := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestListServicesAndConnect(t *testing.T) {
	r, up := newTestRouter(t, "")

	w := do(t, r, http.MethodGet, "/api/v1/services", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Profile  string          `json:"profile"`
		Services []ServiceStatus `json:"services"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "ci", resp.Profile)
	require.Len(t, resp.Services, 3)
	require.Equal(t, "metadata", resp.Services[0].Name)
	require.False(t, resp.Services[2].Connected)

	w = do(t, r, http.MethodPost, "/api/v1/services/pennsieve/connect", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, up.URL+"/pennsieve", decodeBody(t, w)["endpoint"])

	w = do(t, r, http.MethodPost, "/api/v1/services/xyz/connect", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/services/o2sparc/connect", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, r, http.MethodGet, "/api/v1/services", nil)
	var after struct {
		Services []ServiceStatus `json:"services"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &after))
	require.Equal(t, "o2sparc", after.Services[1].Name)
	require.True(t, after.Services[1].Connected)
	require.NotNil(t, after.Services[1].Supported)
	require.True(t, *after.Services[1].Supported)
	require.Nil(t, after.Services[0].Supported)
}

func TestProfileRoutes(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := do(t, r, http.MethodGet, "/api/v1/services/pennsieve/profile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ci", decodeBody(t, w)["profile"])

	w = do(t, r, http.MethodPut, "/api/v1/services/pennsieve/profile", map[string]string{"name": "prod"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "prod", decodeBody(t, w)["profile"])

	w = do(t, r, http.MethodPut, "/api/v1/services/metadata/profile", map[string]string{"name": "prod"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/services/o2sparc/profile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "key", decodeBody(t, w)["profile"])
}

func TestMetadataRoutes(t *testing.T) {
	r, up := newTestRouter(t, "")

	w := do(t, r, http.MethodGet, "/api/v1/metadata/datasets?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"_id":"76"`)

	w = do(t, r, http.MethodPost, "/api/v1/metadata/search", map[string]any{"query": map[string]any{"term": map[string]any{"organ": "heart"}}})
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, up.searches, 1)
	require.JSONEq(t, `{"query":{"term":{"organ":"heart"}}}`, up.searches[0])

	w = do(t, r, http.MethodPost, "/api/v1/metadata/search", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, up.searches[1], "match_all")
}

func TestPennsieveRoutes(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := do(t, r, http.MethodGet, "/api/v1/pennsieve/datasets?ids=76&tags=stomach", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Stomach scaffold")

	w = do(t, r, http.MethodGet, "/api/v1/pennsieve/datasets?ids=seventy", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/api/v1/pennsieve/files?fileType=XML&query=10991.xml&datasetId=76", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "10991.xml")
}

func TestJobRoutes(t *testing.T) {
	r, up := newTestRouter(t, "")

	w := do(t, r, http.MethodPost, "/api/v1/o2sparc/jobs", map[string]any{
		"solver":  "simcore/services/comp/itis/sleeper",
		"version": "2.1.6",
		"inputs":  map[string]any{"input_2": 2, "input_3": false},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var job database.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	require.Equal(t, "job-1", job.JobID)
	require.Equal(t, "ci", job.Profile)

	up.mu.Lock()
	up.progress = 100
	up.mu.Unlock()

	w = do(t, r, http.MethodGet, "/api/v1/o2sparc/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var status struct {
		Job  database.Job `json:"job"`
		Done bool         `json:"done"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.True(t, status.Done)
	require.Equal(t, "SUCCESS", status.Job.State)
	require.Equal(t, 1.0, status.Job.Progress)

	w = do(t, r, http.MethodGet, "/api/v1/o2sparc/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), job.ID)

	w = do(t, r, http.MethodGet, "/api/v1/o2sparc/jobs/unknown", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/o2sparc/jobs", map[string]any{"solver": "x"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTokenRequired(t *testing.T) {
	r, _ := newTestRouter(t, "sparc_secret")

	w := do(t, r, http.MethodGet, "/api/v1/services", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/services", nil)
	req.Header.Set("Authorization", "Bearer sparc_secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	r, _ := newTestRouter(t, "")

	// unknown service
	w := do(t, r, http.MethodGet, "/api/v1/services/nope/profile", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, decodeBody(t, w)["error"], "unknown service")
}
