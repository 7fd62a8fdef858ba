package usecase

import (
	"fmt"

	"presenter-ai/internal/domain"
)

// Watermarks of the context budget at which the governor escalates.
const (
	halfWatermark   = 0.5
	urgentWatermark = 0.8
)

const halfNotice = "NOTICE: You have used over half of your context window. " +
	"Stay focused on the task and avoid unnecessary tool calls."

const urgentNotice = "URGENT: You are close to running out of context. " +
	"Finish the task immediately and call `finalize`, or the run will fail."

// budgetGovernor tracks an agent's token consumption against its context
// window. Each watermark fires exactly once, in order, as conversation
// content; the hard stop only trips after the urgent notice has been
// delivered, so the model always gets its warnings before the run dies.
type budgetGovernor struct {
	budget      int
	halfFired   bool
	urgentFired bool
}

func newBudgetGovernor(budget int) *budgetGovernor {
	return &budgetGovernor{budget: budget}
}

// check compares accumulated usage against the budget. It returns a notice to
// inject into the conversation when a watermark is first crossed, or an error
// when the hard limit trips.
func (g *budgetGovernor) check(totalTokens int) (string, error) {
	if g.budget <= 0 {
		return "", nil
	}
	ratio := float64(totalTokens) / float64(g.budget)

	if ratio >= 1.0 && g.urgentFired {
		return "", domain.NewDomainError("budget.check", domain.ErrContextBudget,
			fmt.Sprintf("%d of %d tokens used", totalTokens, g.budget))
	}
	if ratio >= urgentWatermark && !g.urgentFired {
		g.urgentFired = true
		g.halfFired = true
		return urgentNotice, nil
	}
	if ratio >= halfWatermark && !g.halfFired {
		g.halfFired = true
		return halfNotice, nil
	}
	return "", nil
}
