package bedrockrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tessera-ops/bedrock-router/internal/bedrock"
	"github.com/tessera-ops/bedrock-router/internal/cache"
	"github.com/tessera-ops/bedrock-router/internal/invocationlog"
)

// fakeInvoker returns a canned response and records every call.
type fakeInvoker struct {
	text  string
	err   error
	calls int
}

func (f *fakeInvoker) InvokeAgent(_ context.Context, agentID, sessionID, inputText string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.text != "" {
		return f.text, nil
	}
	return fmt.Sprintf("response from %s to %q", agentID, inputText), nil
}

func testRouting() RoutingConfig {
	return RoutingConfig{
		DefaultAgent: "DEFAULTAGENT",
		RoutingRules: map[string]RoutingRule{
			"chatbot": {Agent: "CHATAGENT", KnowledgeBase: "KB1"},
		},
	}
}

func newTestProcessor(invoker Invoker) *Processor {
	return NewProcessor(cache.NewClient(cache.NewMemory(100), nil), invoker, time.Hour, nil)
}

func record(body string) Record {
	return Record{Body: body}
}

func validBody(app, input string) string {
	b, _ := json.Marshal(map[string]any{
		"app_name":   app,
		"request":    map[string]any{"input": input},
		"session_id": "session-abc",
	})
	return string(b)
}

func itemError(t *testing.T, res ItemResult) string {
	t.Helper()
	var body struct {
		Error   string `json:"error"`
		ErrorID string `json:"error_id"`
	}
	if err := json.Unmarshal([]byte(res.Body), &body); err != nil {
		t.Fatalf("item body is not an error document: %q", res.Body)
	}
	return body.Error
}

func TestProcessBatch_EmptyBatch(t *testing.T) {
	p := newTestProcessor(&fakeInvoker{})
	res := p.ProcessBatch(context.Background(), nil, testRouting())
	if res.StatusCode != 400 {
		t.Errorf("expected 400 for empty batch, got %d", res.StatusCode)
	}
	if len(res.Results) != 0 {
		t.Error("empty batch must not carry partial results")
	}
	if !strings.Contains(res.Body, "No records found") {
		t.Errorf("unexpected body: %s", res.Body)
	}
}

func TestProcessBatch_CapsAtTenRecords(t *testing.T) {
	inv := &fakeInvoker{}
	p := newTestProcessor(inv)

	records := make([]Record, 15)
	for i := range records {
		records[i] = record(validBody("chatbot", fmt.Sprintf("question %d", i)))
	}

	res := p.ProcessBatch(context.Background(), records, testRouting())
	if res.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if res.ProcessedCount != 10 {
		t.Errorf("expected 10 processed, got %d", res.ProcessedCount)
	}
	if inv.calls != 10 {
		t.Errorf("expected 10 backend calls, got %d", inv.calls)
	}
}

func TestProcessBatch_IsolatesBadRecord(t *testing.T) {
	p := newTestProcessor(&fakeInvoker{})

	records := []Record{
		record(validBody("chatbot", "first")),
		record(`{not json`),
		record(validBody("chatbot", "third")),
	}

	res := p.ProcessBatch(context.Background(), records, testRouting())
	if res.StatusCode != 200 {
		t.Fatalf("expected batch 200, got %d", res.StatusCode)
	}
	if len(res.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res.Results))
	}
	if res.Results[0].StatusCode != 200 || res.Results[2].StatusCode != 200 {
		t.Error("valid records around the bad one must still succeed")
	}
	if res.Results[1].StatusCode != 400 {
		t.Errorf("expected 400 for malformed record, got %d", res.Results[1].StatusCode)
	}
	if got := itemError(t, res.Results[1]); got != "Invalid JSON format" {
		t.Errorf("unexpected reason: %q", got)
	}
}

func TestProcessBatch_OversizedRecordBody(t *testing.T) {
	inv := &fakeInvoker{}
	p := newTestProcessor(inv)

	big := record(`{"request":{"input":"` + strings.Repeat("a", maxRecordBytes) + `"}}`)
	res := p.ProcessBatch(context.Background(), []Record{big}, testRouting())

	item := res.Results[0]
	if item.StatusCode != 400 {
		t.Errorf("expected 400, got %d", item.StatusCode)
	}
	if got := itemError(t, item); got != "Request body too large" {
		t.Errorf("unexpected reason: %q", got)
	}
	if inv.calls != 0 {
		t.Error("oversized record must not reach the backend")
	}
}

func TestProcessBatch_Defaults(t *testing.T) {
	inv := &fakeInvoker{text: "ok"}
	p := newTestProcessor(inv)

	routing := RoutingConfig{DefaultAgent: "DEFAULTAGENT"}
	res := p.ProcessBatch(context.Background(),
		[]Record{record(`{"request":{"input":"hello"}}`)}, routing)

	item := res.Results[0]
	if item.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", item.StatusCode, item.Body)
	}
	if item.AppName != "default" {
		t.Errorf("expected app_name to default, got %q", item.AppName)
	}
}

func TestProcessBatch_ExplicitEmptyFieldRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			"empty app_name",
			`{"app_name":"","request":{"input":"hello"},"session_id":"s1"}`,
			"Invalid app_name: must be a non-empty string",
		},
		{
			"empty session_id",
			`{"app_name":"chatbot","request":{"input":"hello"},"session_id":""}`,
			"Invalid session_id: must be a non-empty string",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInvoker{}
			p := newTestProcessor(inv)

			res := p.ProcessBatch(context.Background(), []Record{record(tt.body)}, testRouting())

			item := res.Results[0]
			if item.StatusCode != 400 {
				t.Fatalf("expected 400, got %d: %s", item.StatusCode, item.Body)
			}
			if got := itemError(t, item); got != tt.want {
				t.Errorf("unexpected reason: %q", got)
			}
			if inv.calls != 0 {
				t.Error("explicitly empty field must not reach the backend")
			}
		})
	}
}

func TestProcessBatch_RequestCoercedToEmptyPayload(t *testing.T) {
	p := newTestProcessor(&fakeInvoker{})

	// request is not an object; it is coerced to an empty payload, which
	// leaves no input text.
	res := p.ProcessBatch(context.Background(),
		[]Record{record(`{"app_name":"chatbot","request":"not-an-object","session_id":"s1"}`)},
		testRouting())

	item := res.Results[0]
	if item.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", item.StatusCode)
	}
	if got := itemError(t, item); !strings.Contains(got, "Invalid input") {
		t.Errorf("unexpected reason: %q", got)
	}
}

func TestProcessBatch_InputFieldPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		request string
		want    string
	}{
		{"input wins", `{"input":"a","query":"b","prompt":"c"}`, `"a"`},
		{"query when input empty", `{"input":"","query":"b","prompt":"c"}`, `"b"`},
		{"prompt last", `{"prompt":"c"}`, `"c"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInvoker{}
			p := newTestProcessor(inv)
			body := `{"app_name":"chatbot","session_id":"s1","request":` + tt.request + `}`
			res := p.ProcessBatch(context.Background(), []Record{record(body)}, testRouting())
			item := res.Results[0]
			if item.StatusCode != 200 {
				t.Fatalf("expected 200, got %d: %s", item.StatusCode, item.Body)
			}
			if !strings.Contains(item.Body, tt.want) {
				t.Errorf("expected input %s to reach the backend, got %q", tt.want, item.Body)
			}
		})
	}
}

func TestProcessBatch_NonStringInputRejected(t *testing.T) {
	inv := &fakeInvoker{}
	p := newTestProcessor(inv)

	// input is present and non-empty but not a string; it is the selected
	// input field, so query must not be consulted.
	body := `{"app_name":"chatbot","session_id":"s1","request":{"input":123,"query":"hello"}}`
	res := p.ProcessBatch(context.Background(), []Record{record(body)}, testRouting())

	item := res.Results[0]
	if item.StatusCode != 400 {
		t.Fatalf("expected 400, got %d: %s", item.StatusCode, item.Body)
	}
	if got := itemError(t, item); got != "Invalid input: must be a non-empty string" {
		t.Errorf("unexpected reason: %q", got)
	}
	if inv.calls != 0 {
		t.Error("non-string input must not fall through to the next field")
	}
}

func TestProcessBatch_ValidationFailureSkipsCacheAndBackend(t *testing.T) {
	inv := &fakeInvoker{}
	spy := &spyStore{}
	p := NewProcessor(cache.NewClient(spy, nil), inv, time.Hour, nil)

	res := p.ProcessBatch(context.Background(),
		[]Record{record(validBody("bad app!", "hello"))}, testRouting())

	item := res.Results[0]
	if item.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", item.StatusCode)
	}
	if got := itemError(t, item); !strings.Contains(got, "contains invalid characters") {
		t.Errorf("unexpected reason: %q", got)
	}
	if inv.calls != 0 {
		t.Error("invalid record must not reach the backend")
	}
	if spy.gets+spy.puts != 0 {
		t.Error("invalid record must not touch the cache")
	}
}

func TestProcessBatch_CacheRoundTrip(t *testing.T) {
	inv := &fakeInvoker{text: "the answer is 42"}
	p := newTestProcessor(inv)
	routing := testRouting()
	rec := record(validBody("chatbot", "what is the answer"))

	first := p.ProcessBatch(context.Background(), []Record{rec}, routing).Results[0]
	if first.StatusCode != 200 || first.Cached {
		t.Fatalf("expected uncached 200, got %+v", first)
	}

	second := p.ProcessBatch(context.Background(), []Record{rec}, routing).Results[0]
	if second.StatusCode != 200 || !second.Cached {
		t.Fatalf("expected cached 200, got %+v", second)
	}
	if first.Body != second.Body {
		t.Errorf("cached body differs: %q vs %q", first.Body, second.Body)
	}
	if inv.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", inv.calls)
	}
}

func TestProcessBatch_CacheKeyIgnoresFieldOrder(t *testing.T) {
	inv := &fakeInvoker{text: "stable"}
	p := newTestProcessor(inv)
	routing := testRouting()

	a := record(`{"app_name":"chatbot","session_id":"s1","request":{"input":"hi","lang":"en"}}`)
	b := record(`{"app_name":"chatbot","session_id":"s1","request":{"lang":"en","input":"hi"}}`)

	p.ProcessBatch(context.Background(), []Record{a}, routing)
	res := p.ProcessBatch(context.Background(), []Record{b}, routing).Results[0]
	if !res.Cached {
		t.Error("reordered payload fields must hit the same cache entry")
	}
}

func TestProcessBatch_UnmappedApp(t *testing.T) {
	p := newTestProcessor(&fakeInvoker{})
	routing := RoutingConfig{} // no rules, no default

	res := p.ProcessBatch(context.Background(),
		[]Record{record(validBody("unmapped-app", "hello"))}, routing)

	item := res.Results[0]
	if item.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", item.StatusCode)
	}
	if got := itemError(t, item); got != "No agent configured for app: unmapped-app" {
		t.Errorf("unexpected reason: %q", got)
	}
}

func TestProcessBatch_BackendFailureRedacted(t *testing.T) {
	serr := &bedrock.ServiceError{ErrorID: "err-deadbeef"}
	p := newTestProcessor(&fakeInvoker{err: serr})

	res := p.ProcessBatch(context.Background(),
		[]Record{record(validBody("chatbot", "hello"))}, testRouting())

	item := res.Results[0]
	if item.StatusCode != 500 {
		t.Fatalf("expected 500, got %d", item.StatusCode)
	}
	var body struct {
		Error   string `json:"error"`
		ErrorID string `json:"error_id"`
	}
	if err := json.Unmarshal([]byte(item.Body), &body); err != nil {
		t.Fatalf("bad error body: %q", item.Body)
	}
	if body.Error != "Bedrock service error" {
		t.Errorf("unexpected error message: %q", body.Error)
	}
	if body.ErrorID != "err-deadbeef" {
		t.Errorf("expected correlation id to pass through, got %q", body.ErrorID)
	}
}

func TestProcessBatch_UnexpectedInvokerErrorIsInternal(t *testing.T) {
	p := newTestProcessor(&fakeInvoker{err: fmt.Errorf("wire: connection refused to 10.0.0.7")})

	res := p.ProcessBatch(context.Background(),
		[]Record{record(validBody("chatbot", "hello"))}, testRouting())

	item := res.Results[0]
	if item.StatusCode != 500 {
		t.Fatalf("expected 500, got %d", item.StatusCode)
	}
	if strings.Contains(item.Body, "10.0.0.7") {
		t.Errorf("internal detail leaked: %q", item.Body)
	}
	if !strings.Contains(item.Body, "err-") {
		t.Errorf("expected a correlation id in %q", item.Body)
	}
}

// panicInvoker panics on a chosen call number and succeeds otherwise.
type panicInvoker struct {
	panicOn int
	calls   int
}

func (p *panicInvoker) InvokeAgent(_ context.Context, _, _, inputText string) (string, error) {
	p.calls++
	if p.calls == p.panicOn {
		panic("nil map write in handler for " + inputText)
	}
	return "ok: " + inputText, nil
}

func TestProcessBatch_PanickedRecordIsolated(t *testing.T) {
	inv := &panicInvoker{panicOn: 2}
	p := newTestProcessor(inv)

	records := []Record{
		record(validBody("chatbot", "first")),
		record(validBody("chatbot", "second")),
		record(validBody("chatbot", "third")),
	}

	res := p.ProcessBatch(context.Background(), records, testRouting())
	if res.StatusCode != 200 {
		t.Fatalf("expected batch 200, got %d", res.StatusCode)
	}
	if len(res.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res.Results))
	}
	if res.Results[0].StatusCode != 200 || res.Results[2].StatusCode != 200 {
		t.Error("records around the panicked one must still succeed")
	}

	item := res.Results[1]
	if item.StatusCode != 500 {
		t.Fatalf("expected 500 for panicked record, got %d", item.StatusCode)
	}
	if got := itemError(t, item); got != "Internal server error" {
		t.Errorf("unexpected reason: %q", got)
	}
	if strings.Contains(item.Body, "nil map write") {
		t.Errorf("panic detail leaked: %q", item.Body)
	}
	if !strings.Contains(item.Body, "err-") {
		t.Errorf("expected a correlation id in %q", item.Body)
	}
}

// panicWriter stands in for an invocation log whose backing store is gone.
type panicWriter struct{}

func (panicWriter) Write(context.Context, invocationlog.Entry) error {
	panic("invocation log store connection lost")
}

func TestProcessBatch_PanicOutsideRecordLoopRejectsBatch(t *testing.T) {
	p := newTestProcessor(&fakeInvoker{text: "ok"})
	p.InvocationLog = panicWriter{}

	res := p.ProcessBatch(context.Background(),
		[]Record{record(validBody("chatbot", "hello"))}, testRouting())

	if res.StatusCode != 500 {
		t.Fatalf("expected batch 500, got %d", res.StatusCode)
	}
	if len(res.Results) != 0 {
		t.Error("rejected batch must not carry partial results")
	}
	if strings.Contains(res.Body, "connection lost") {
		t.Errorf("panic detail leaked: %q", res.Body)
	}
	if !strings.Contains(res.Body, "Internal server error") || !strings.Contains(res.Body, "err-") {
		t.Errorf("expected redacted error with correlation id, got %q", res.Body)
	}
}

func TestProcessBatch_NilInvokerFailsClosed(t *testing.T) {
	p := NewProcessor(cache.NewClient(cache.NewMemory(10), nil), nil, time.Hour, nil)

	res := p.ProcessBatch(context.Background(),
		[]Record{record(validBody("chatbot", "hello"))}, testRouting())

	item := res.Results[0]
	if item.StatusCode != 500 {
		t.Errorf("expected 500 for uninitialized invoker, got %d", item.StatusCode)
	}
}

func TestProcessBatch_FailedResponsesNotCached(t *testing.T) {
	inv := &fakeInvoker{err: &bedrock.ServiceError{ErrorID: "err-1"}}
	p := newTestProcessor(inv)
	routing := testRouting()
	rec := record(validBody("chatbot", "hello"))

	p.ProcessBatch(context.Background(), []Record{rec}, routing)

	// Backend recovers; the earlier failure must not have been cached.
	inv.err = nil
	inv.text = "recovered"
	res := p.ProcessBatch(context.Background(), []Record{rec}, routing).Results[0]
	if res.Cached {
		t.Error("a failed response must never be served from cache")
	}
	if res.Body != "recovered" {
		t.Errorf("expected recovered, got %q", res.Body)
	}
}

// spyStore counts operations without storing anything.
type spyStore struct {
	gets, puts int
}

func (s *spyStore) Get(context.Context, string) (string, error) {
	s.gets++
	return "", cache.ErrMiss
}

func (s *spyStore) Put(context.Context, string, string, time.Duration) error {
	s.puts++
	return nil
}
