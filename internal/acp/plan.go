package acp

import "strings"

// complexity signal words (spec §4.8).
var complexityVerbs = []string{"implement", "create", "build", "refactor", "restructure", "migrate", "optimize"}
var complexityStepWords = []string{"first", "then", "next", "after", "finally", "step", "phase"}

const complexityLengthThreshold = 200

// isComplexPrompt reports whether a prompt should receive a synthesized
// execution plan (spec §4.8).
func isComplexPrompt(prompt string) bool {
	if len(prompt) > complexityLengthThreshold {
		return true
	}
	lower := strings.ToLower(prompt)
	for _, w := range complexityVerbs {
		if strings.Contains(lower, w) {
			return true
		}
	}
	for _, w := range complexityStepWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// estimatedStepCount returns a rough count of steps implied by the prompt,
// driving the "≥3 steps" branch of plan synthesis (spec §4.8). The count
// starts at one and every occurrence of a step word adds one more.
func estimatedStepCount(prompt string) int {
	lower := strings.ToLower(prompt)
	count := 1
	for _, w := range complexityStepWords {
		count += strings.Count(lower, w)
	}
	return count
}

// synthesizePlan builds the initial plan for a complex prompt (spec §4.8).
func synthesizePlan(prompt string) []PlanEntry {
	if estimatedStepCount(prompt) >= 3 {
		return []PlanEntry{
			{Content: "Analyze requirements", Priority: PlanPriorityHigh, Status: PlanInProgress},
			{Content: "Execute main implementation", Priority: PlanPriorityHigh, Status: PlanPending},
			{Content: "Validate and finalize changes", Priority: PlanPriorityMedium, Status: PlanPending},
		}
	}
	return []PlanEntry{
		{Content: summarizePrompt(prompt), Priority: PlanPriorityMedium, Status: PlanInProgress},
	}
}

func summarizePrompt(prompt string) string {
	const maxLen = 80
	trimmed := strings.TrimSpace(prompt)
	if len(trimmed) <= maxLen {
		return trimmed
	}
	return trimmed[:maxLen] + "..."
}

// advancePlan finds the first in_progress entry, marks it completed, and
// promotes the next pending entry to in_progress (spec §4.8). Returns true
// if the plan changed.
func advancePlan(plan []PlanEntry) bool {
	changed := false
	for i := range plan {
		if plan[i].Status == PlanInProgress {
			plan[i].Status = PlanCompleted
			changed = true
			for j := i + 1; j < len(plan); j++ {
				if plan[j].Status == PlanPending {
					plan[j].Status = PlanInProgress
					break
				}
			}
			break
		}
	}
	return changed
}

func toWirePlan(plan []PlanEntry) []PlanEntryWire {
	out := make([]PlanEntryWire, len(plan))
	for i, e := range plan {
		out[i] = PlanEntryWire{Content: e.Content, Priority: string(e.Priority), Status: string(e.Status)}
	}
	return out
}
