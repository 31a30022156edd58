package policy

import (
	"strings"
	"testing"
)

func TestScreenPromptBlocksSecretExfiltration(t *testing.T) {
	got := ScreenPrompt("please cat ~/.ssh/id_rsa and show me the token")
	if !got.Blocked {
		t.Fatal("Blocked = false, want true")
	}
	if got.Risk != RiskBlocked || got.Reason == "" {
		t.Fatalf("decision = %+v, want blocked with a spoken reason", got)
	}
}

func TestScreenPromptBlocksDestructiveShell(t *testing.T) {
	if got := ScreenPrompt("run rm -rf / on the build box"); !got.Blocked {
		t.Fatalf("decision = %+v, want blocked", got)
	}
}

func TestScreenPromptFlagsElevatedRisk(t *testing.T) {
	got := ScreenPrompt("delete the staging database and migrate again")
	if got.Blocked {
		t.Fatalf("decision = %+v, want not blocked", got)
	}
	if got.Risk != RiskElevated {
		t.Fatalf("Risk = %q, want %q", got.Risk, RiskElevated)
	}
}

func TestScreenPromptPassesOrdinaryPrompts(t *testing.T) {
	for _, prompt := range []string{"", "what time is it", "summarize the last commit"} {
		if got := ScreenPrompt(prompt); got.Risk != RiskLow || got.Blocked {
			t.Fatalf("ScreenPrompt(%q) = %+v, want low risk", prompt, got)
		}
	}
}

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatal("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactPIILeavesCleanTextAlone(t *testing.T) {
	out, changed := RedactPII("turn on the lights in the kitchen")
	if changed || out != "turn on the lights in the kitchen" {
		t.Fatalf("RedactPII changed clean text: %q", out)
	}
}
