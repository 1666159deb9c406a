// Package bedrockrouter routes queued inference requests to AWS Bedrock
// agents and caches their responses.
//
// The Processor type is the main entry point: it drives a batch of queue
// records through validation, cache-key derivation, cache lookup, routing
// and backend invocation, isolating per-record failures so one bad record
// never fails the batch. Routing is driven by a RoutingConfig which is
// re-loaded from the environment on every batch via LoadRoutingConfig.
package bedrockrouter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Config holds the process-wide settings, sourced from the environment.
// Every field has a stated default; an unset cache table and accelerator
// endpoint disable caching entirely.
type Config struct {
	// Region is the AWS region used for all SDK clients.
	Region string
	// CacheTable is the DynamoDB table backing the response cache.
	// Empty disables the direct cache path.
	CacheTable string
	// RedisAddr is the accelerator endpoint (host:port). When set, cache
	// reads and writes go through Redis instead of the table directly.
	RedisAddr string
	// CacheTTL is how long successful responses are reusable.
	CacheTTL time.Duration
	// QueueURL enables the SQS consumer when set.
	QueueURL string
	// AgentAliasID selects the Bedrock agent alias to invoke.
	AgentAliasID string
	// InvocationLogDSN enables persistent per-record result logging when
	// set ("sqlite:file.db" or "postgres://...").
	InvocationLogDSN string
	// Port is the HTTP listen port.
	Port string
}

// ConfigFromEnv builds a Config from the process environment, applying
// defaults for anything unset.
func ConfigFromEnv() Config {
	cfg := Config{
		Region:           envOr("AWS_REGION", "us-east-1"),
		CacheTable:       os.Getenv("CACHE_TABLE_NAME"),
		RedisAddr:        os.Getenv("REDIS_ENDPOINT"),
		CacheTTL:         time.Hour,
		QueueURL:         os.Getenv("QUEUE_URL"),
		AgentAliasID:     os.Getenv("AGENT_ALIAS_ID"),
		InvocationLogDSN: os.Getenv("INVOCATION_LOG_DSN"),
		Port:             envOr("PORT", "8080"),
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.CacheTTL = time.Duration(secs) * time.Second
		}
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// RoutingRule maps one application to its backend agent and optional
// knowledge base.
type RoutingRule struct {
	Agent         string `json:"agent" yaml:"agent"`
	KnowledgeBase string `json:"knowledge_base,omitempty" yaml:"knowledge_base,omitempty"`
}

// RoutingConfig is the table driving routing decisions. It is loaded once
// per batch and read-only while the batch is processed.
type RoutingConfig struct {
	Agents         []string               `json:"agents" yaml:"agents"`
	KnowledgeBases []string               `json:"knowledge_bases" yaml:"knowledge_bases"`
	DefaultAgent   string                 `json:"default_agent" yaml:"default_agent"`
	RoutingRules   map[string]RoutingRule `json:"routing_rules" yaml:"routing_rules"`
}

// routingSchema rejects structurally wrong configs (e.g. routing_rules
// mapping to strings) before they silently produce unroutable apps.
var routingSchema = jsonschema.MustCompileString("routing_config.json", `{
	"type": "object",
	"properties": {
		"agents": {"type": "array", "items": {"type": "string"}},
		"knowledge_bases": {"type": "array", "items": {"type": "string"}},
		"default_agent": {"type": "string"},
		"routing_rules": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"properties": {
					"agent": {"type": "string"},
					"knowledge_base": {"type": "string"}
				}
			}
		}
	}
}`)

// LoadRoutingConfig parses the ROUTING_CONFIG environment variable on every
// call. Inline JSON (leading "{") and YAML are both accepted. Any parse or
// schema failure falls back to the flat-list environment defaults.
func LoadRoutingConfig(logger *slog.Logger) RoutingConfig {
	if logger == nil {
		logger = slog.Default()
	}
	raw := os.Getenv("ROUTING_CONFIG")
	cfg, err := ParseRoutingConfig(raw)
	if err != nil {
		logger.Warn("routing config unusable, using environment defaults", "error", err.Error())
		return DefaultRoutingConfig()
	}
	return cfg
}

// ParseRoutingConfig parses an inline routing config. The format is JSON
// when the trimmed input starts with "{", YAML otherwise.
func ParseRoutingConfig(raw string) (RoutingConfig, error) {
	var cfg RoutingConfig
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return cfg, fmt.Errorf("routing config is empty")
	}

	if strings.HasPrefix(trimmed, "{") {
		var generic any
		if err := json.Unmarshal([]byte(trimmed), &generic); err != nil {
			return cfg, fmt.Errorf("parsing JSON routing config: %w", err)
		}
		if err := routingSchema.Validate(generic); err != nil {
			return cfg, fmt.Errorf("routing config schema: %w", err)
		}
		if err := json.Unmarshal([]byte(trimmed), &cfg); err != nil {
			return cfg, fmt.Errorf("parsing JSON routing config: %w", err)
		}
		return cfg, nil
	}

	if err := yaml.Unmarshal([]byte(trimmed), &cfg); err != nil {
		return cfg, fmt.Errorf("parsing YAML routing config: %w", err)
	}
	// Normalise through JSON so the schema sees the same value shapes on
	// both input paths.
	b, err := json.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("normalising YAML routing config: %w", err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return cfg, fmt.Errorf("normalising YAML routing config: %w", err)
	}
	if err := routingSchema.Validate(generic); err != nil {
		return cfg, fmt.Errorf("routing config schema: %w", err)
	}
	return cfg, nil
}

// DefaultRoutingConfig derives a routing table from the flat environment
// lists APPLICATIONS, BEDROCK_AGENTS and KNOWLEDGE_BASES, which are
// index-aligned: the i-th application maps to the i-th agent and the i-th
// knowledge base. DEFAULT_AGENT (or the first listed agent) serves any
// application without its own entry.
func DefaultRoutingConfig() RoutingConfig {
	agents := strings.Split(os.Getenv("BEDROCK_AGENTS"), ",")
	kbs := strings.Split(os.Getenv("KNOWLEDGE_BASES"), ",")
	apps := strings.Split(os.Getenv("APPLICATIONS"), ",")

	defaultAgent := os.Getenv("DEFAULT_AGENT")
	if defaultAgent == "" && len(agents) > 0 {
		defaultAgent = strings.TrimSpace(agents[0])
	}

	rules := make(map[string]RoutingRule)
	for i, app := range apps {
		app = strings.TrimSpace(app)
		if app == "" {
			continue
		}
		rule := RoutingRule{Agent: defaultAgent}
		if i < len(agents) && strings.TrimSpace(agents[i]) != "" {
			rule.Agent = strings.TrimSpace(agents[i])
		}
		if i < len(kbs) && strings.TrimSpace(kbs[i]) != "" {
			rule.KnowledgeBase = strings.TrimSpace(kbs[i])
		}
		rules[app] = rule
	}

	return RoutingConfig{
		Agents:         filterNonEmpty(agents),
		KnowledgeBases: filterNonEmpty(kbs),
		DefaultAgent:   defaultAgent,
		RoutingRules:   rules,
	}
}

func filterNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
