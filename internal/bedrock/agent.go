package bedrock

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"github.com/tessera-ops/bedrock-router/internal/metrics"
	"github.com/tessera-ops/bedrock-router/internal/validate"
)

// AgentAPI is the subset of the Bedrock agent runtime client used by the
// invoker.
type AgentAPI interface {
	InvokeAgent(ctx context.Context, params *bedrockagentruntime.InvokeAgentInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.InvokeAgentOutput, error)
}

// AgentInvoker calls Bedrock agents synchronously and assembles their
// streamed completion into a single text result.
type AgentInvoker struct {
	client  AgentAPI
	aliasID string
	logger  *slog.Logger
}

// NewAgentInvoker creates an invoker. aliasID selects the agent alias to
// call; it defaults to the Bedrock test alias when empty.
func NewAgentInvoker(client AgentAPI, aliasID string, logger *slog.Logger) *AgentInvoker {
	if aliasID == "" {
		aliasID = "TSTALIASID"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentInvoker{client: client, aliasID: aliasID, logger: logger}
}

// InvokeAgent sends inputText to the given agent within sessionID and
// returns the assembled completion text.
//
// Errors are either *ValidationError (bad agent ID, no backend contact
// attempted) or *ServiceError (backend failure, redacted).
func (i *AgentInvoker) InvokeAgent(ctx context.Context, agentID, sessionID, inputText string) (string, error) {
	if err := validate.AgentID(agentID); err != nil {
		return "", &ValidationError{Reason: err.Error()}
	}
	if i == nil || i.client == nil {
		return "", redact(slog.Default(), "agent", errNotInitialized)
	}

	start := time.Now()
	out, err := i.client.InvokeAgent(ctx, &bedrockagentruntime.InvokeAgentInput{
		AgentId:      aws.String(agentID),
		AgentAliasId: aws.String(i.aliasID),
		SessionId:    aws.String(sessionID),
		InputText:    aws.String(inputText),
	})
	if err != nil {
		return "", redact(i.logger, "agent", err)
	}

	stream := out.GetStream()
	defer stream.Close()

	text, err := collectCompletion(stream)
	metrics.InvokeDuration.WithLabelValues("agent").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", redact(i.logger, "agent", err)
	}
	return text, nil
}

// completionStream is the part of *bedrockagentruntime.InvokeAgentEventStream
// that collectCompletion consumes. Kept as an interface so the assembly logic
// is testable without a live event stream.
type completionStream interface {
	Events() <-chan agenttypes.ResponseStream
	Err() error
}

// collectCompletion concatenates completion chunks in arrival order. Chunks
// that are not valid UTF-8 are dropped rather than failing the whole call.
func collectCompletion(stream completionStream) (string, error) {
	var sb strings.Builder
	for event := range stream.Events() {
		chunk, ok := event.(*agenttypes.ResponseStreamMemberChunk)
		if !ok {
			continue
		}
		b := chunk.Value.Bytes
		if len(b) == 0 || !utf8.Valid(b) {
			continue
		}
		sb.Write(b)
	}
	if err := stream.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}
