package core

// TokenUsage captures token counts for a single model call.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Metadata describes one completed generation: which model and provider
// served it, the effective temperature (nil when the model rejects one),
// wall-clock duration and token usage. When a request spans several model
// calls (a tool loop) the token counts are the sums across all calls.
type Metadata struct {
	Model        string   `json:"model"`
	Provider     string   `json:"provider"`
	Temperature  *float64 `json:"temperature,omitempty"`
	DurationMS   int64    `json:"durationMs"`
	InputTokens  int      `json:"inputTokens"`
	OutputTokens int      `json:"outputTokens"`
}

// Generation is one audit entry in the per-request generations array, one per
// underlying model call.
type Generation struct {
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	DurationMS   int64  `json:"durationMs"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
}
