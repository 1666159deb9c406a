package bedrockrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tessera-ops/bedrock-router/internal/bedrock"
	"github.com/tessera-ops/bedrock-router/internal/cache"
	"github.com/tessera-ops/bedrock-router/internal/cachekey"
	"github.com/tessera-ops/bedrock-router/internal/invocationlog"
	"github.com/tessera-ops/bedrock-router/internal/logging"
	"github.com/tessera-ops/bedrock-router/internal/metrics"
	"github.com/tessera-ops/bedrock-router/internal/validate"
)

const (
	// maxBatchRecords caps one batch; excess records are dropped to bound
	// resource use per invocation.
	maxBatchRecords = 10
	// maxRecordBytes caps one record body (256 KiB).
	maxRecordBytes = 256 * 1024
)

// ItemResult is the outcome of one record. Body carries the response text
// on success and a JSON {"error", "error_id"?} document on failure.
type ItemResult struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
	Cached     bool   `json:"cached"`
	AppName    string `json:"app_name,omitempty"`
}

// BatchResult is the outcome of one batch. StatusCode is 200 whenever the
// batch itself was processable — individual failures are reported in-band
// per item. Body is set only on whole-batch rejection (400/500).
type BatchResult struct {
	StatusCode     int          `json:"statusCode"`
	Results        []ItemResult `json:"results,omitempty"`
	ProcessedCount int          `json:"processed_count"`
	Body           string       `json:"body,omitempty"`
}

// Invoker is the backend call the processor depends on. Implemented by
// *bedrock.AgentInvoker.
type Invoker interface {
	InvokeAgent(ctx context.Context, agentID, sessionID, inputText string) (string, error)
}

// Processor drives batches of queue records through validation, cache
// lookup, routing and backend invocation.
type Processor struct {
	cache    *cache.Client
	invoker  Invoker
	cacheTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// InvocationLog, when set, receives one entry per processed record.
	// Writes are best-effort.
	InvocationLog invocationlog.Writer
}

// NewProcessor creates a Processor. cacheClient may wrap a nil store
// (caching disabled); cacheTTL of zero falls back to one hour.
func NewProcessor(cacheClient *cache.Client, invoker Invoker, cacheTTL time.Duration, logger *slog.Logger) *Processor {
	if cacheClient == nil {
		cacheClient = cache.NewClient(nil, logger)
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cache:    cacheClient,
		invoker:  invoker,
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// ProcessBatch runs one inbound batch against the given routing table.
// Records are processed sequentially in arrival order; a failure in one
// record never aborts the rest. Only structural problems (an empty batch,
// or a failure outside the per-record loop) reject the whole batch.
func (p *Processor) ProcessBatch(ctx context.Context, records []Record, routing RoutingConfig) (result BatchResult) {
	log := logging.FromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			id := logging.NewErrorID()
			log.Error("batch processing failure", "error_id", id, "panic", fmt.Sprint(r))
			metrics.BatchesTotal.WithLabelValues("error").Inc()
			result = BatchResult{StatusCode: 500, Body: errorBodyWithID("Internal server error", id)}
		}
	}()

	if len(records) == 0 {
		metrics.BatchesTotal.WithLabelValues("empty").Inc()
		return BatchResult{StatusCode: 400, Body: errorBody("No records found")}
	}
	if len(records) > maxBatchRecords {
		log.Warn("batch capped", "received", len(records), "cap", maxBatchRecords)
		records = records[:maxBatchRecords]
	}
	metrics.BatchSize.Observe(float64(len(records)))

	results := make([]ItemResult, 0, len(records))
	for _, rec := range records {
		res := p.processRecord(ctx, rec, routing)
		results = append(results, res)
		metrics.RecordsTotal.WithLabelValues(res.AppName, strconv.Itoa(res.StatusCode), cacheLabel(res.Cached)).Inc()
		p.logInvocation(ctx, res)
	}

	metrics.BatchesTotal.WithLabelValues("ok").Inc()
	return BatchResult{StatusCode: 200, Results: results, ProcessedCount: len(results)}
}

// processRecord is the per-record state machine; terminal at the first
// matching branch. Panics are caught here so one record's failure stays
// its own.
func (p *Processor) processRecord(ctx context.Context, rec Record, routing RoutingConfig) (res ItemResult) {
	log := logging.FromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			id := logging.NewErrorID()
			log.Error("record processing failure", "error_id", id, "panic", fmt.Sprint(r))
			res = ItemResult{StatusCode: 500, Body: errorBodyWithID("Internal server error", id)}
		}
	}()

	if len(rec.Body) > maxRecordBytes {
		return ItemResult{StatusCode: 400, Body: errorBody("Request body too large")}
	}

	var msg inboundMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return ItemResult{StatusCode: 400, Body: errorBody("Invalid JSON format")}
	}
	req := msg.normalize(p.now)

	// Validation happens before any cache work so invalid requests are
	// never looked up or stored. Field order matches the reason a caller
	// should see first.
	if err := validate.AppName(req.appName); err != nil {
		return ItemResult{StatusCode: 400, Body: errorBody(err.Error()), AppName: req.appName}
	}
	if err := validate.InputText(req.inputText); err != nil {
		return ItemResult{StatusCode: 400, Body: errorBody(err.Error()), AppName: req.appName}
	}
	if err := validate.SessionID(req.sessionID); err != nil {
		return ItemResult{StatusCode: 400, Body: errorBody(err.Error()), AppName: req.appName}
	}
	if req.inputText == "" {
		return ItemResult{StatusCode: 400, Body: errorBody("No input text provided"), AppName: req.appName}
	}

	key := cachekey.Derive(req.appName, req.payload)
	if body, ok := p.cache.Get(ctx, key); ok {
		log.Debug("cache hit", "app", req.appName, "key", key)
		return ItemResult{StatusCode: 200, Body: body, Cached: true, AppName: req.appName}
	}

	decision, ok := routing.Route(req.appName)
	if !ok {
		return ItemResult{
			StatusCode: 400,
			Body:       errorBody(fmt.Sprintf("No agent configured for app: %s", req.appName)),
			AppName:    req.appName,
		}
	}
	log.Debug("routed",
		"app", req.appName,
		"agent", decision.AgentID,
		"knowledge_base", decision.KnowledgeBaseID,
	)

	if p.invoker == nil {
		id := logging.NewErrorID()
		log.Error("backend invoker not initialized", "error_id", id, "app", req.appName)
		return ItemResult{StatusCode: 500, Body: errorBodyWithID("Internal server error", id), AppName: req.appName}
	}

	text, err := p.invoker.InvokeAgent(ctx, decision.AgentID, req.sessionID, req.inputText)
	if err != nil {
		return invokeErrorResult(log, err, req.appName)
	}

	p.cache.Put(ctx, key, text, p.cacheTTL)
	return ItemResult{StatusCode: 200, Body: text, AppName: req.appName}
}

// invokeErrorResult maps an invoker error to an item result: precondition
// failures are client errors with the verbatim reason, everything else is a
// redacted 500 carrying only a correlation ID.
func invokeErrorResult(log *slog.Logger, err error, appName string) ItemResult {
	var verr *bedrock.ValidationError
	if errors.As(err, &verr) {
		return ItemResult{StatusCode: 400, Body: errorBody(verr.Reason), AppName: appName}
	}

	var serr *bedrock.ServiceError
	if errors.As(err, &serr) {
		return ItemResult{
			StatusCode: 500,
			Body:       errorBodyWithID("Bedrock service error", serr.ErrorID),
			AppName:    appName,
		}
	}

	id := logging.NewErrorID()
	log.Error("unexpected invocation error", "error_id", id, "app", appName, "error", err.Error())
	return ItemResult{StatusCode: 500, Body: errorBodyWithID("Internal server error", id), AppName: appName}
}

func (p *Processor) logInvocation(ctx context.Context, res ItemResult) {
	if p.InvocationLog == nil {
		return
	}
	entry := invocationlog.Entry{
		RequestID:  logging.RequestIDFromContext(ctx),
		AppName:    res.AppName,
		StatusCode: res.StatusCode,
		Cached:     res.Cached,
	}
	if res.StatusCode != 200 {
		entry.ErrorBody = res.Body
	}
	if err := p.InvocationLog.Write(ctx, entry); err != nil {
		p.logger.Warn("invocation log write failed", "error", err.Error())
	}
}

func errorBody(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

func errorBodyWithID(msg, id string) string {
	b, _ := json.Marshal(map[string]string{"error": msg, "error_id": id})
	return string(b)
}

func cacheLabel(cached bool) string {
	if cached {
		return "hit"
	}
	return "miss"
}
