// Package policy screens transcribed prompts before they reach the
// assistant subprocess. Voice input is easy to mishear, so obviously
// destructive or secret-exfiltrating requests are stopped at the door
// instead of being typed into a CLI that might execute them.
package policy

import (
	"regexp"
	"strings"
)

// Risk grades a transcribed prompt.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskElevated Risk = "elevated"
	RiskBlocked  Risk = "blocked"
)

// Decision is the screening verdict for one prompt.
type Decision struct {
	Risk    Risk
	Blocked bool
	// Reason is set when Blocked, phrased for being spoken back to the user.
	Reason string
}

var blockedPromptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-\w*r\w*\s+/(?:\s|$)`),
	regexp.MustCompile(`(?i)\b(sudo\s+)?cat\s+.*(?:id_rsa|id_ed25519|\.env\b|auth\.json)`),
	regexp.MustCompile(`(?i)\b(exfiltrate|dump credentials|leak secrets?)\b`),
	regexp.MustCompile(`(?i)\b(print|show|reveal|read)\b.*\b(api[_ -]?key|token|password|secret)s?\b`),
}

// elevatedKeywords flag prompts worth logging loudly; a misheard word in
// one of these can do real damage.
var elevatedKeywords = []string{
	"delete", "remove", "drop", "truncate", "wipe", "destroy",
	"force push", "reset --hard", "shutdown", "reboot",
	"chmod", "chown", "sudo", "uninstall", "migrate", "deploy",
}

// ScreenPrompt grades a transcribed prompt before it is sent to the
// assistant.
func ScreenPrompt(prompt string) Decision {
	p := strings.ToLower(strings.TrimSpace(prompt))
	if p == "" {
		return Decision{Risk: RiskLow}
	}

	for _, re := range blockedPromptPatterns {
		if re.MatchString(p) {
			return Decision{
				Risk:    RiskBlocked,
				Blocked: true,
				Reason:  "That request looks destructive or asks to expose secrets, so I won't pass it on.",
			}
		}
	}

	for _, kw := range elevatedKeywords {
		if strings.Contains(p, kw) {
			return Decision{Risk: RiskElevated}
		}
	}
	return Decision{Risk: RiskLow}
}
