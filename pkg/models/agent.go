package models

// AgentRequest is sent to an agent for an AGENT_EXECUTION step.
type AgentRequest struct {
	Prompt     string         `json:"prompt"`
	Parameters map[string]any `json:"parameters"`
}

// AgentResponse is what an agent returns. A response with Success=false is
// treated as a step failure even though the call itself succeeded.
type AgentResponse struct {
	AgentID      string         `json:"agentId"`
	Result       string         `json:"result"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}
