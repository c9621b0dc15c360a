package redact

import (
	"strings"
	"testing"
)

func TestRedactDisabledPassesTranscriptThrough(t *testing.T) {
	SetEnabled(false)
	in := "you can reach me at jane.doe@example.com or +1 415 555 0182"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabledScrubsContactDetails(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)

	in := "you can reach me at jane.doe@example.com or +1 415 555 0182"
	got := Text(in)
	if strings.Contains(got, "example.com") {
		t.Fatalf("email survived redaction: %q", got)
	}
	if strings.Contains(got, "555") {
		t.Fatalf("phone number survived redaction: %q", got)
	}
	if !strings.Contains(got, "[REDACTED_EMAIL]") || !strings.Contains(got, "[REDACTED_PHONE]") {
		t.Fatalf("placeholders missing: %q", got)
	}
}

func TestRedactKeepsAnswerText(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)

	in := "I led a team of 4 engineers migrating a monolith over 18 months"
	if got := Text(in); got != in {
		t.Fatalf("answer text mangled: %q", got)
	}
}
