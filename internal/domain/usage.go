package domain

import "fmt"

// Usage tracks token consumption reported by one completion response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Cost accumulates usage across an agent's lifetime. It is strictly additive
// and never reset while the owning agent lives.
type Cost struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Add accumulates one response's usage into the cost.
func (c *Cost) Add(u Usage) {
	c.Prompt += u.PromptTokens
	c.Completion += u.CompletionTokens
	c.Total += u.TotalTokens
}

func (c Cost) String() string {
	return fmt.Sprintf("%.1fK prompt tokens and %.1fK completion tokens",
		float64(c.Prompt)/1000, float64(c.Completion)/1000)
}
