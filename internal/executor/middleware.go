package executor

// AgentState is the per-request state visible to middleware hooks.
type AgentState struct {
	SessionID    string
	AssistantID  string
	UserQuery    string
	CurrentFiles []string
	Extra        map[string]any
}

// ModelRequest is the mutable request passed through the middleware
// chain before each model call.
type ModelRequest struct {
	SystemPrompt string
	State        *AgentState
}

// Handler advances a model request to the next stage of the chain.
type Handler func(req *ModelRequest) error

// Middleware is one hook pair in the agent middleware chain. BeforeAgent
// runs once per execution; WrapModelCall runs around every model call
// and may mutate the request (typically the system prompt). Hooks are
// deterministic functions of (request, state) apart from I/O they
// explicitly own, such as reading a memory file.
type Middleware interface {
	Name() string
	BeforeAgent(state *AgentState) error
	WrapModelCall(req *ModelRequest, next Handler) error
}

// Chain is an ordered middleware list.
type Chain []Middleware

// BeforeAgent runs every middleware's BeforeAgent hook in order.
func (c Chain) BeforeAgent(state *AgentState) error {
	for _, m := range c {
		if err := m.BeforeAgent(state); err != nil {
			return err
		}
	}
	return nil
}

// Apply threads the request through every WrapModelCall hook in order.
// Hooks modify the request in place; Apply returns their error.
func (c Chain) Apply(req *ModelRequest) error {
	handler := func(*ModelRequest) error { return nil }
	for i := len(c) - 1; i >= 0; i-- {
		m := c[i]
		next := handler
		handler = func(r *ModelRequest) error {
			return m.WrapModelCall(r, next)
		}
	}
	return handler(req)
}
