// Package redact scrubs common secret patterns from log output before it
// reaches a handler, so API keys consumed by the assistant or research
// children never land in the driver's own log files.
package redact

import "regexp"

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)(["']?\s*[:=]\s*["']?)([^"'\s,}]+)(["']?)`),
	regexp.MustCompile(`(?i)(secret|token|auth)(["']?\s*[:=]\s*["']?)([^"'\s,}]+)(["']?)`),
	regexp.MustCompile(`(?i)(Bearer\s+)([a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`(?i)(password)(["']?\s*[:=]\s*["']?)([^"'\s,}]+)(["']?)`),
	regexp.MustCompile(`(?i)(private[_-]?key|privkey)(["']?\s*[:=]\s*["']?)([^"'\s,}]+)(["']?)`),
	regexp.MustCompile(`(?i)(access[_-]?key|aws[_-]?secret)(["']?\s*[:=]\s*["']?)([^"'\s,}]+)(["']?)`),
}

// Text is "***REDACTED***" substituted for every matched secret value.
const Text = "***REDACTED***"

// String replaces every recognized secret pattern in s with Text,
// preserving the field name so the log line remains readable.
func String(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		if pattern.NumSubexp() >= 3 {
			result = pattern.ReplaceAllString(result, "${1}${2}"+Text+"${4}")
		} else {
			result = pattern.ReplaceAllString(result, "${1}"+Text)
		}
	}
	return result
}
