package bedrockrouter

// Decision is the outcome of routing one application name: the backend
// agent to invoke and, when the application has one configured, the
// knowledge base that agent should consult.
type Decision struct {
	AgentID         string
	KnowledgeBaseID string
}

// Route resolves appName against the routing table. An explicit rule's
// agent always wins; applications without a rule (or with a rule that
// names no agent) fall back to the default agent. The knowledge base, if
// present on the rule, passes through unchanged.
//
// The second return value is false when no agent resolves at all, which
// callers must surface as a client error naming the application.
func (c RoutingConfig) Route(appName string) (Decision, bool) {
	rule := c.RoutingRules[appName]

	agent := rule.Agent
	if agent == "" {
		agent = c.DefaultAgent
	}
	if agent == "" {
		return Decision{}, false
	}
	return Decision{AgentID: agent, KnowledgeBaseID: rule.KnowledgeBase}, true
}
