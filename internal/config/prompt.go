package config

import (
	"strings"
)

// ResearchWrapTemplate instructs the assistant to act on the oracle's
// findings, or to declare completion if nothing remains.
const ResearchWrapTemplate = `Research findings for the next step:

{{.Findings}}

Pursue the top-ranked items above. If nothing meaningful remains to do,
say so clearly using the phrase "PROJECT_COMPLETE".`

// PromptVars holds variables for single-pass template expansion.
type PromptVars struct {
	Findings string
}

// ExpandPrompt performs variable substitution on a prompt template using
// a single-pass Replacer, so a value (e.g. Findings containing a literal
// "{{.Findings}}") is never re-expanded.
func ExpandPrompt(template string, vars PromptVars) string {
	r := strings.NewReplacer(
		"{{.Findings}}", vars.Findings,
	)
	return r.Replace(template)
}

// RenderResearchPrompt wraps an oracle response for the next iteration.
func RenderResearchPrompt(findings string) string {
	return ExpandPrompt(ResearchWrapTemplate, PromptVars{Findings: findings})
}

// RecoveryPrompt returns the generic recovery prompt substituted after
// the assistant reports is_error.
func RecoveryPrompt() string {
	return DefaultRecoveryPrompt
}

// ContinuationPrompt returns the short generic prompt substituted when
// the research client fails, including when its circuit breaker is open.
func ContinuationPrompt() string {
	return DefaultContinuationPrompt
}

// LoadPrompt returns the prompt template string based on configuration
// priority: inline Prompt field, falling back to DefaultPrompt.
func (c *Config) LoadPrompt() (string, error) {
	if c.Prompt != "" {
		return c.Prompt, nil
	}
	return DefaultPrompt, nil
}
