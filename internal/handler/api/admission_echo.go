package api

import (
	"context"
	"errors"
	"strings"
	"time"

	models "SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	"SignalGate/internal/service/ratelimit"
	"SignalGate/internal/services/scoring"
	xhttp "SignalGate/pkg/http"
	xlogger "SignalGate/pkg/logger"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Dependencies of the admission API. Each is satisfied by one pipeline
// component.
type (
	Admitter interface {
		Evaluate(ctx context.Context, sig *models.Signal, snap *models.IndicatorSnapshot) *models.Decision
		EvaluateBatch(ctx context.Context, sigs []*models.Signal) ([]*models.Decision, error)
	}
	// TickIngester runs a tick on its symbol's ordered shard and returns
	// the decision for the candidate it carries.
	TickIngester interface {
		Ingest(ctx context.Context, snap *models.IndicatorSnapshot) (*models.Decision, error)
	}
	OutcomeReporter interface {
		Report(ctx context.Context, evt models.OutcomeEvent) error
	}
	HealthSource interface {
		Health(stage models.Stage) models.Health
		Counters(stage models.Stage) models.MonitorCounters
		Snapshot() models.MonitorSnapshot
	}
	BlockList interface {
		Entries() []models.SymbolBlockEntry
		Clear(symbol string) bool
		Health(symbol string) models.SymbolHealth
	}
	RSIProfiles interface {
		Profile(symbol string) (models.RSIProfile, bool)
	}
	QueueStats interface {
		Stats() models.QueueStats
	}
	ModelReloader interface {
		Reload(ctx context.Context) (scoring.ModelInfo, error)
		Info() (scoring.ModelInfo, bool)
	}
)

type Deps struct {
	Admitter Admitter
	Ticks    TickIngester
	Outcomes OutcomeReporter
	Monitor  HealthSource
	Blocks   BlockList
	RSI      RSIProfiles
	Queue    QueueStats
	Journal  domrepo.GateJournal
	Models   ModelReloader
}

// AdmissionEchoHandler exposes the admission pipeline over HTTP.
type AdmissionEchoHandler struct {
	logger  *xlogger.Logger
	deps    Deps
	limiter *ratelimit.Limiter
	rps     float64
	burst   float64
	now     func() time.Time
}

type HandlerOption func(*AdmissionEchoHandler)

// WithRateLimit bounds write requests per client IP. Zero disables it.
func WithRateLimit(l *ratelimit.Limiter, rps, burst float64) HandlerOption {
	return func(h *AdmissionEchoHandler) {
		h.limiter, h.rps, h.burst = l, rps, burst
	}
}

func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *AdmissionEchoHandler) { h.now = now }
}

func NewAdmissionEchoHandler(logger *xlogger.Logger, deps Deps, opts ...HandlerOption) *AdmissionEchoHandler {
	h := &AdmissionEchoHandler{logger: logger, deps: deps, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ xhttp.Handler = (*AdmissionEchoHandler)(nil)

func (h *AdmissionEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/signals", h.SubmitSignal, h.rateLimit)
	g.POST("/signals/batch", h.SubmitBatch, h.rateLimit)
	g.POST("/outcomes", h.ReportOutcome, h.rateLimit)
	g.GET("/health", h.Health)
	g.GET("/health/:stage", h.StageHealth)
	g.GET("/monitor", h.Monitor)
	g.GET("/blocks", h.Blocks)
	g.DELETE("/blocks/:symbol", h.Unblock)
	g.GET("/symbols/:symbol/health", h.SymbolHealth)
	g.GET("/rsi/:symbol", h.RSIProfile)
	g.GET("/queue", h.QueueStats)
	g.GET("/journal", h.Journal)
	g.GET("/model", h.ModelInfo)
	g.POST("/model/reload", h.ReloadModel)
}

func (h *AdmissionEchoHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.limiter == nil || h.rps <= 0 {
			return next(c)
		}
		if !h.limiter.Allow(c.RealIP(), h.burst, h.rps) {
			return xhttp.TooManyRequestsResponse(c, time.Second)
		}
		return next(c)
	}
}

// SubmitSignal evaluates one signal. A request carrying indicators is a
// tick: it runs on the symbol's ingest shard, in order with feed ticks.
func (h *AdmissionEchoHandler) SubmitSignal(c echo.Context) error {
	req := &models.SignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	sig := signalFromRequest(req, h.now())
	ctx := c.Request().Context()

	if len(req.Indicators) == 0 {
		return xhttp.SuccessResponse(c, h.deps.Admitter.Evaluate(ctx, sig, nil))
	}
	d, err := h.deps.Ticks.Ingest(ctx, &models.IndicatorSnapshot{
		Symbol:     sig.Symbol,
		Timestamp:  sig.Timestamp,
		Indicators: req.Indicators,
		Candidate:  sig,
	})
	if errors.Is(err, models.ErrValidation) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}
	if err != nil {
		h.logger.Error("ingest failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("ingest failed").WithError(err))
	}
	return xhttp.SuccessResponse(c, d)
}

// SubmitBatch evaluates several signals at once. Signals of different
// symbols are evaluated concurrently; decisions come back in request order.
func (h *AdmissionEchoHandler) SubmitBatch(c echo.Context) error {
	req := &models.BatchSignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	now := h.now()
	sigs := make([]*models.Signal, len(req.Signals))
	for i := range req.Signals {
		sigs[i] = signalFromRequest(&req.Signals[i], now)
	}
	decisions, err := h.deps.Admitter.EvaluateBatch(c.Request().Context(), sigs)
	if err != nil {
		h.logger.Error("batch evaluation failed", xlogger.Error(err), xlogger.Int("signals", len(sigs)))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("batch evaluation failed").WithError(err))
	}
	return xhttp.ListResponse(c, decisions, int64(len(decisions)))
}

func signalFromRequest(req *models.SignalRequest, now time.Time) *models.Signal {
	sig := &models.Signal{
		ID:              req.ID,
		Symbol:          strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Direction:       models.Direction(req.Direction),
		EntryPrice:      req.EntryPrice,
		StopLoss:        req.StopLoss,
		TakeProfits:     req.TakeProfits,
		Timestamp:       now.UTC(),
		Features:        req.Features,
		SourcePatternID: req.SourcePatternID,
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if req.Timestamp != nil {
		sig.Timestamp = req.Timestamp.UTC()
	}
	return sig
}

func (h *AdmissionEchoHandler) ReportOutcome(c echo.Context) error {
	req := &models.OutcomeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	evt := models.OutcomeEvent{
		SignalID:    req.SignalID,
		Symbol:      strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Outcome:     models.ExecutionOutcome(req.Outcome),
		SlippageBps: req.SlippageBps,
		PnL:         req.PnL,
		At:          h.now().UTC(),
	}
	if err := h.deps.Outcomes.Report(c.Request().Context(), evt); err != nil {
		h.logger.Error("outcome report failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("outcome not recorded").WithError(err))
	}
	return xhttp.AcceptedResponse(c, evt)
}

func (h *AdmissionEchoHandler) Health(c echo.Context) error {
	snap := h.deps.Monitor.Snapshot()
	stages := make(map[models.Stage]models.Health, len(models.AllStages()))
	for _, s := range models.AllStages() {
		stages[s] = h.deps.Monitor.Health(s)
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"overall": snap.Overall,
		"stages":  stages,
	})
}

func (h *AdmissionEchoHandler) StageHealth(c echo.Context) error {
	stage, ok := parseStage(c.Param("stage"))
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("unknown stage %q", c.Param("stage")))
	}
	return xhttp.SuccessResponse(c, h.deps.Monitor.Counters(stage))
}

func parseStage(s string) (models.Stage, bool) {
	for _, st := range models.AllStages() {
		if strings.EqualFold(string(st), s) {
			return st, true
		}
	}
	return "", false
}

func (h *AdmissionEchoHandler) Monitor(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.deps.Monitor.Snapshot())
}

func (h *AdmissionEchoHandler) Blocks(c echo.Context) error {
	entries := h.deps.Blocks.Entries()
	return xhttp.ListResponse(c, entries, int64(len(entries)))
}

func (h *AdmissionEchoHandler) Unblock(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	if !h.deps.Blocks.Clear(symbol) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("%s is not blocked", symbol))
	}
	return xhttp.NoContentResponse(c)
}

func (h *AdmissionEchoHandler) SymbolHealth(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.deps.Blocks.Health(strings.ToUpper(c.Param("symbol"))))
}

func (h *AdmissionEchoHandler) RSIProfile(c echo.Context) error {
	symbol := strings.ToUpper(c.Param("symbol"))
	p, ok := h.deps.RSI.Profile(symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no rsi profile for %s", symbol))
	}
	return xhttp.SuccessResponse(c, p)
}

func (h *AdmissionEchoHandler) QueueStats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.deps.Queue.Stats())
}

func (h *AdmissionEchoHandler) Journal(c echo.Context) error {
	if h.deps.Journal == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("journal disabled"))
	}
	req := &models.JournalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	now := h.now().UTC()
	to := xhttp.ParseTimeDefault(req.To, now)
	from := xhttp.ParseTimeDefault(req.From, to.Add(-24*time.Hour))
	if !from.Before(to) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from must be before to"))
	}

	rows, err := h.deps.Journal.Query(c.Request().Context(), strings.ToUpper(req.Symbol), from, to, req.Limit)
	if err != nil {
		h.logger.Error("journal query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("journal query failed").WithError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *AdmissionEchoHandler) ModelInfo(c echo.Context) error {
	info, ok := h.deps.Models.Info()
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no model loaded"))
	}
	return xhttp.SuccessResponse(c, info)
}

func (h *AdmissionEchoHandler) ReloadModel(c echo.Context) error {
	info, err := h.deps.Models.Reload(c.Request().Context())
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("ERR_MODEL_RELOAD", err.Error()))
	}
	return xhttp.SuccessResponse(c, info)
}
