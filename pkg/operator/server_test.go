package operator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/governor-core/pkg/charter"
	"github.com/mindburn-labs/governor-core/pkg/drift"
	"github.com/mindburn-labs/governor-core/pkg/energy"
	"github.com/mindburn-labs/governor-core/pkg/escape"
	"github.com/mindburn-labs/governor-core/pkg/eventlog"
	"github.com/mindburn-labs/governor-core/pkg/governor"
	"github.com/mindburn-labs/governor-core/pkg/governorconfig"
	"github.com/mindburn-labs/governor-core/pkg/proofcache"
)

type fakeModel struct{ rho float64 }

func (m *fakeModel) EstimateSpectralRadius(int, float64, bool) (float64, error) { return m.rho, nil }
func (m *fakeModel) LoadParams([]float64) error                                { return nil }
func (m *fakeModel) ReplaceParams(params []float64) error {
	if len(params) > 0 {
		m.rho = params[0]
	}
	return nil
}

const testToken = "operator-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	charterPath := filepath.Join(dir, "charter.txt")
	require.NoError(t, os.WriteFile(charterPath, []byte("@clause c1 no forbidden shell calls\n"), 0o644))
	ch, err := charter.Load(charterPath)
	require.NoError(t, err)

	cfgStore, err := governorconfig.Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	evLog, err := eventlog.Open(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = evLog.Close() })

	cache := proofcache.Disabled()
	driftMon := drift.New(drift.DefaultWindow, drift.DefaultMeanThreshold, drift.DefaultMaxThreshold)
	energyGuard := energy.Disabled(nil)
	hatches := escape.New(nil)
	model := &fakeModel{rho: 0.3}

	gov, err := governor.New(ch, cfgStore, evLog, cache, driftMon, energyGuard, hatches, model, nil, nil)
	require.NoError(t, err)

	srv, err := New(Config{
		Token:       testToken,
		ConfigStore: cfgStore,
		Hatches:     hatches,
		Governor:    gov,
		Cache:       cache,
		EventLog:    evLog,
		CharterHash: ch.ContentHash(),
		RPS:         1000,
		Burst:       1000,
	})
	require.NoError(t, err)
	return srv
}

func authedRequest(method, path string, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("authorization", "Bearer "+testToken)
	return req
}

func TestHandleState_Unauthenticated_Returns401WithExactBody(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", rec.Body.String())
}

func TestHandleState_Authenticated_ReportsFlags(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodGet, "/state", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, false, body["pause"])
	require.Equal(t, false, body["kill"])
}

func TestHandlePause_SetsFlagAndReturnsIt(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodPost, "/pause", []byte(`{"flag":true}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, srv.hatches.IsPaused())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["ok"])
	require.Equal(t, true, body["pause"])
}

func TestHandleKill_SetsKillRequested(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodPost, "/kill", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, srv.hatches.KillRequested())
}

func TestHandleConfig_ValidUpdate_Returns200AndAppliesIt(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodPost, "/config", []byte(`{"rho_max":0.75}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0.75, srv.config.Get().RhoMax)
}

// TestHandleConfig_OutOfRangeRhoMax_Returns422AndLeavesConfigUnchanged
// covers S6: an out-of-range rho_max is rejected with 422 and the field
// path named, and the stored config is untouched.
func TestHandleConfig_OutOfRangeRhoMax_Returns422AndLeavesConfigUnchanged(t *testing.T) {
	srv := newTestServer(t)
	before := srv.config.Get()
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodPost, "/config", []byte(`{"rho_max":1.5}`)))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, before, srv.config.Get())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "rho_max", body["field"])
}

func TestHandleReloadModel_NoLoader_ReturnsCurrentRho(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodPost, "/reload_model", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.InDelta(t, 0.3, body["rho"], 1e-9)
}

func TestHandleProve_SafePlan_PassesTrue(t *testing.T) {
	srv := newTestServer(t)
	plan := []byte(`{"name":"p1","steps":[{"op":"WriteFile","path":"artifacts/out.txt","content":"hi"}]}`)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodPost, "/prove", plan))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["passed"])
}

func TestHandleProve_SchemaInvalidBody_Returns500(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodPost, "/prove", []byte(`{"name":"missing steps"}`)))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

// TestHandleProve_UnsafePlan_Returns200WithCounterexample covers the
// path-traversal WriteFile scenario: a structurally well-formed but
// contract-violating plan must still come back as 200 with
// passed:false and a populated counterexample, not a 500.
func TestHandleProve_UnsafePlan_Returns200WithCounterexample(t *testing.T) {
	srv := newTestServer(t)
	plan := []byte(`{"name":"p1","steps":[{"op":"WriteFile","path":"../../etc/passwd","content":"x"}]}`)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodPost, "/prove", plan))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, false, body["passed"])
	counterexample, ok := body["counterexample"].(map[string]any)
	require.True(t, ok, "counterexample must be a populated object")
	require.Equal(t, float64(0), counterexample["step_index"])
	require.Equal(t, "WriteFile", counterexample["op"])
	require.Equal(t, "path", counterexample["field"])
}

func TestRateLimiting_ExceedingBudget_Returns429(t *testing.T) {
	srv := newTestServer(t)
	srv.limiter = newIPRateLimiter(1, 1)

	rec1 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec1, authedRequest(http.MethodGet, "/state", nil))
	require.Equal(t, http.StatusOK, rec1.Code)

	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, authedRequest(http.MethodGet, "/state", nil))
	require.Equal(t, http.StatusTooManyRequests, rec2.Code)
}
