package policy

import (
	"strings"
	"testing"
)

func TestRedactPIIEmail(t *testing.T) {
	out, changed := RedactPII("contact alice@example.org for details")
	if !changed {
		t.Fatalf("RedactPII() changed = false, want true")
	}
	if strings.Contains(out, "alice@example.org") {
		t.Fatalf("RedactPII() = %q, want email removed", out)
	}
	if !strings.Contains(out, "[REDACTED_EMAIL]") {
		t.Fatalf("RedactPII() = %q, want email marker", out)
	}
}

func TestRedactPIICardBeforePhone(t *testing.T) {
	out, changed := RedactPII("card 4111 1111 1111 1111 on file")
	if !changed {
		t.Fatalf("RedactPII() changed = false, want true")
	}
	if !strings.Contains(out, "[REDACTED_CARD]") {
		t.Fatalf("RedactPII() = %q, want card marker, not phone", out)
	}
}

func TestRedactPIIPhone(t *testing.T) {
	out, _ := RedactPII("call me at +1 415-555-0199 tonight")
	if !strings.Contains(out, "[REDACTED_PHONE]") {
		t.Fatalf("RedactPII() = %q, want phone marker", out)
	}
}

func TestRedactPIICleanTextUnchanged(t *testing.T) {
	in := "walk the dog at noon"
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII() = (%q, %v), want input untouched", out, changed)
	}
}
