package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/tessera-ops/bedrock-router/internal/metrics"
	"github.com/tessera-ops/bedrock-router/internal/validate"
)

// Fixed generation settings for direct model invocation.
const (
	maxTokenCount = 4096
	temperature   = 0.7
	topP          = 0.9
)

// ModelAPI is the subset of the Bedrock runtime client used by the invoker.
type ModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// ModelInvoker calls a foundation model directly, bypassing agents, with a
// fixed text generation configuration. It exists for applications routed to
// a bare model rather than a configured agent.
type ModelInvoker struct {
	client ModelAPI
	logger *slog.Logger
}

// NewModelInvoker creates a direct model invoker.
func NewModelInvoker(client ModelAPI, logger *slog.Logger) *ModelInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelInvoker{client: client, logger: logger}
}

type titanRequest struct {
	InputText            string `json:"inputText"`
	TextGenerationConfig struct {
		MaxTokenCount int     `json:"maxTokenCount"`
		Temperature   float64 `json:"temperature"`
		TopP          float64 `json:"topP"`
	} `json:"textGenerationConfig"`
}

type titanResponse struct {
	Results []struct {
		OutputText string `json:"outputText"`
	} `json:"results"`
}

// InvokeModel sends prompt to the given foundation model and returns the
// generated text. Same validation and error-redaction rules as InvokeAgent.
func (i *ModelInvoker) InvokeModel(ctx context.Context, modelID, prompt string) (string, error) {
	if err := validate.ModelID(modelID); err != nil {
		return "", &ValidationError{Reason: err.Error()}
	}
	if i == nil || i.client == nil {
		return "", redact(slog.Default(), "model", errNotInitialized)
	}

	req := titanRequest{InputText: prompt}
	req.TextGenerationConfig.MaxTokenCount = maxTokenCount
	req.TextGenerationConfig.Temperature = temperature
	req.TextGenerationConfig.TopP = topP

	body, err := json.Marshal(req)
	if err != nil {
		return "", redact(i.logger, "model", fmt.Errorf("marshal request: %w", err))
	}

	start := time.Now()
	out, err := i.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	metrics.InvokeDuration.WithLabelValues("model").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", redact(i.logger, "model", err)
	}

	var resp titanResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", redact(i.logger, "model", fmt.Errorf("unmarshal response: %w", err))
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return resp.Results[0].OutputText, nil
}
