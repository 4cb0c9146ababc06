package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	models "SignalGate/internal/domain/models"
	"SignalGate/internal/service/ratelimit"
	"SignalGate/internal/services/blocker"
	"SignalGate/internal/services/monitor"
	"SignalGate/internal/services/rsifilter"
	"SignalGate/internal/services/scoring"
	"SignalGate/internal/services/signalqueue"
	xhttp "SignalGate/pkg/http"
	xlogger "SignalGate/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type fakeAdmitter struct {
	evaluated []*models.Signal
	ingested  []*models.IndicatorSnapshot
}

func (f *fakeAdmitter) Evaluate(_ context.Context, sig *models.Signal, _ *models.IndicatorSnapshot) *models.Decision {
	f.evaluated = append(f.evaluated, sig)
	return &models.Decision{Signal: sig, Admitted: true, Priority: 70, Token: "tok-1"}
}

func (f *fakeAdmitter) EvaluateBatch(ctx context.Context, sigs []*models.Signal) ([]*models.Decision, error) {
	out := make([]*models.Decision, len(sigs))
	for i, sig := range sigs {
		out[i] = f.Evaluate(ctx, sig, nil)
	}
	return out, nil
}

func (f *fakeAdmitter) Ingest(_ context.Context, snap *models.IndicatorSnapshot) (*models.Decision, error) {
	f.ingested = append(f.ingested, snap)
	return &models.Decision{Signal: snap.Candidate}, nil
}

type fakeJournal struct {
	rows  []models.GateResult
	query struct {
		symbol   string
		from, to time.Time
		limit    int
	}
}

func (j *fakeJournal) Init(context.Context) error { return nil }
func (j *fakeJournal) Record(_ context.Context, r []models.GateResult) error {
	j.rows = append(j.rows, r...)
	return nil
}
func (j *fakeJournal) Query(_ context.Context, symbol string, from, to time.Time, limit int) ([]models.GateResult, error) {
	j.query.symbol, j.query.from, j.query.to, j.query.limit = symbol, from, to, limit
	return j.rows, nil
}
func (j *fakeJournal) Health(context.Context) error { return nil }
func (j *fakeJournal) Close() error                 { return nil }

type fakeModels struct {
	info scoring.ModelInfo
	err  error
}

func (m *fakeModels) Reload(context.Context) (scoring.ModelInfo, error) { return m.info, m.err }
func (m *fakeModels) Info() (scoring.ModelInfo, bool)                   { return m.info, m.info.Version != "" }

type apiFixture struct {
	e        *echo.Echo
	admitter *fakeAdmitter
	blocker  *blocker.Blocker
	monitor  *monitor.Monitor
	rsi      *rsifilter.Filter
	journal  *fakeJournal
	models   *fakeModels
}

func newFixture(t *testing.T, opts ...HandlerOption) *apiFixture {
	t.Helper()
	now := func() time.Time { return t0 }
	f := &apiFixture{
		e:        echo.New(),
		admitter: &fakeAdmitter{},
		blocker:  blocker.New(blocker.Config{LossThreshold: 2}, xlogger.Nop(), blocker.WithClock(now)),
		monitor:  monitor.New(monitor.Config{MinSample: 1}, monitor.WithClock(now)),
		rsi:      rsifilter.New(rsifilter.Config{MinSamples: 5}, rsifilter.WithClock(now)),
		journal:  &fakeJournal{},
		models:   &fakeModels{info: scoring.ModelInfo{Version: "v3", Features: []string{"macd"}}},
	}
	q := signalqueue.New(signalqueue.Config{Capacity: 4})
	opts = append([]HandlerOption{WithHandlerClock(now)}, opts...)
	h := NewAdmissionEchoHandler(xlogger.Nop(), Deps{
		Admitter: f.admitter,
		Ticks:    f.admitter,
		Outcomes: reportFunc(func(evt models.OutcomeEvent) { f.blocker.RecordOutcome(evt) }),
		Monitor:  f.monitor,
		Blocks:   f.blocker,
		RSI:      f.rsi,
		Queue:    q,
		Journal:  f.journal,
		Models:   f.models,
	}, opts...)
	h.RegisterRoutes(f.e)
	return f
}

type reportFunc func(models.OutcomeEvent)

func (fn reportFunc) Report(_ context.Context, evt models.OutcomeEvent) error {
	fn(evt)
	return nil
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (int, xhttp.APIResponse) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var resp xhttp.APIResponse
	if rec.Code != http.StatusNoContent {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec.Code, resp
}

const signalBody = `{
	"symbol": "btcusdt",
	"direction": "LONG",
	"entry_price": 50000,
	"stop_loss": 49000,
	"take_profits": [51000],
	"features": {"macd": 0.4, "rsi": 28}
}`

func TestSubmitSignal_Evaluates(t *testing.T) {
	f := newFixture(t)

	code, resp := f.do(t, http.MethodPost, "/api/signals", signalBody)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, http.StatusOK, resp.Status)

	require.Len(t, f.admitter.evaluated, 1)
	sig := f.admitter.evaluated[0]
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.NotEmpty(t, sig.ID)
	assert.Equal(t, t0, sig.Timestamp)
	assert.Equal(t, models.DirectionLong, sig.Direction)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, true, data["admitted"])
	assert.Equal(t, "tok-1", data["token"])
}

func TestSubmitSignal_WithIndicatorsIngests(t *testing.T) {
	f := newFixture(t)
	body := strings.Replace(signalBody, `"symbol"`, `"indicators": {"rsi": 31}, "symbol"`, 1)

	_, resp := f.do(t, http.MethodPost, "/api/signals", body)
	assert.Equal(t, http.StatusOK, resp.Status)
	require.Len(t, f.admitter.ingested, 1)
	snap := f.admitter.ingested[0]
	assert.Equal(t, 31.0, snap.Indicators["rsi"])
	assert.Equal(t, "BTCUSDT", snap.Candidate.Symbol)
	assert.Empty(t, f.admitter.evaluated)
}

func TestSubmitBatch(t *testing.T) {
	f := newFixture(t)
	eth := strings.Replace(signalBody, "btcusdt", "ethusdt", 1)

	_, resp := f.do(t, http.MethodPost, "/api/signals/batch", `{"signals":[`+signalBody+`,`+eth+`]}`)
	require.Equal(t, http.StatusOK, resp.Status)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, 2.0, data["total"])

	require.Len(t, f.admitter.evaluated, 2)
	assert.Equal(t, "BTCUSDT", f.admitter.evaluated[0].Symbol)
	assert.Equal(t, "ETHUSDT", f.admitter.evaluated[1].Symbol)
	assert.NotEqual(t, f.admitter.evaluated[0].ID, f.admitter.evaluated[1].ID)

	_, resp = f.do(t, http.MethodPost, "/api/signals/batch", `{"signals":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestSubmitSignal_ValidationErrors(t *testing.T) {
	f := newFixture(t)

	_, resp := f.do(t, http.MethodPost, "/api/signals", `{"symbol":"BTCUSDT","direction":"UP"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Empty(t, f.admitter.evaluated)
}

func TestSubmitSignal_RateLimited(t *testing.T) {
	f := newFixture(t, WithRateLimit(ratelimit.New(ratelimit.WithClock(func() time.Time { return t0 })), 1, 2))

	for i := 0; i < 2; i++ {
		_, resp := f.do(t, http.MethodPost, "/api/signals", signalBody)
		assert.Equal(t, http.StatusOK, resp.Status)
	}
	_, resp := f.do(t, http.MethodPost, "/api/signals", signalBody)
	assert.Equal(t, http.StatusTooManyRequests, resp.Status)
	assert.Len(t, f.admitter.evaluated, 2)
}

func TestOutcomesAndBlocks(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		_, resp := f.do(t, http.MethodPost, "/api/outcomes", `{"symbol":"ethusdt","outcome":"LOSS","pnl":-12}`)
		assert.Equal(t, http.StatusAccepted, resp.Status)
	}

	_, resp := f.do(t, http.MethodGet, "/api/blocks", "")
	list := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(1), list["total"])
	row := list["rows"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "ETHUSDT", row["symbol"])
	assert.Equal(t, string(models.BlockReasonLosingStreak), row["reason"])

	_, resp = f.do(t, http.MethodGet, "/api/symbols/ethusdt/health", "")
	h := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(2), h["losses"])
	assert.Equal(t, float64(0), h["ratio"])

	code, _ := f.do(t, http.MethodDelete, "/api/blocks/ethusdt", "")
	assert.Equal(t, http.StatusNoContent, code)
	assert.Empty(t, f.blocker.Entries())

	_, resp = f.do(t, http.MethodDelete, "/api/blocks/ethusdt", "")
	assert.Equal(t, http.StatusNotFound, resp.Status)

	_, resp = f.do(t, http.MethodPost, "/api/outcomes", `{"symbol":"ETHUSDT","outcome":"MAYBE"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestHealthAndMonitor(t *testing.T) {
	f := newFixture(t)
	f.monitor.Record(models.GateResult{Stage: models.StageRSI, Outcome: models.OutcomeReject, Reason: models.ReasonRSIAnomaly})
	f.monitor.RecordAdmission(&models.Signal{SourcePatternID: "double_bottom"})

	_, resp := f.do(t, http.MethodGet, "/api/health", "")
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, string(models.HealthCritical), data["overall"])
	stages := data["stages"].(map[string]interface{})
	assert.Equal(t, string(models.HealthCritical), stages[string(models.StageRSI)])
	assert.Equal(t, string(models.HealthOK), stages[string(models.StageValidator)])

	_, resp = f.do(t, http.MethodGet, "/api/health/RSI", "")
	assert.Equal(t, http.StatusOK, resp.Status)

	_, resp = f.do(t, http.MethodGet, "/api/health/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.Status)

	_, resp = f.do(t, http.MethodGet, "/api/monitor", "")
	snap := resp.Data.(map[string]interface{})
	assert.Contains(t, snap, "stages")
}

func TestRSIProfileAndQueue(t *testing.T) {
	f := newFixture(t)

	_, resp := f.do(t, http.MethodGet, "/api/rsi/solusdt", "")
	assert.Equal(t, http.StatusNotFound, resp.Status)

	for i := 0; i < 6; i++ {
		f.rsi.Observe("SOLUSDT", 50)
	}
	_, resp = f.do(t, http.MethodGet, "/api/rsi/solusdt", "")
	p := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(6), p["sample_count"])
	assert.Equal(t, string(models.RSIWarm), p["state"])

	_, resp = f.do(t, http.MethodGet, "/api/queue", "")
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestJournalQuery(t *testing.T) {
	f := newFixture(t)
	f.journal.rows = []models.GateResult{{SignalID: "s1", Symbol: "BTCUSDT", Stage: models.StageValidator, Outcome: models.OutcomePass}}

	_, resp := f.do(t, http.MethodGet, "/api/journal?symbol=btcusdt&limit=10", "")
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "BTCUSDT", f.journal.query.symbol)
	assert.Equal(t, 10, f.journal.query.limit)
	assert.Equal(t, t0, f.journal.query.to)
	assert.Equal(t, t0.Add(-24*time.Hour), f.journal.query.from)

	_, resp = f.do(t, http.MethodGet, "/api/journal?symbol=btcusdt", "")
	assert.Equal(t, 200, f.journal.query.limit)

	_, resp = f.do(t, http.MethodGet, "/api/journal", "")
	assert.Equal(t, http.StatusBadRequest, resp.Status)

	_, resp = f.do(t, http.MethodGet, "/api/journal?symbol=btcusdt&from=2025-03-15T00:00:00Z&to=2025-03-14T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestModelReload(t *testing.T) {
	f := newFixture(t)

	_, resp := f.do(t, http.MethodGet, "/api/model", "")
	assert.Equal(t, "v3", resp.Data.(map[string]interface{})["version"])

	_, resp = f.do(t, http.MethodPost, "/api/model/reload", "")
	assert.Equal(t, http.StatusOK, resp.Status)

	f.models.err = errors.New("artifact missing")
	_, resp = f.do(t, http.MethodPost, "/api/model/reload", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
}
