package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

// TestSecretStringRedactsInString verifies the fmt.Stringer override.
func TestSecretStringRedactsInString(t *testing.T) {
	secret := SecretString("postgres://user:hunter2@db:5432/chronos")

	out := fmt.Sprintf("%v", secret)
	if out != "***REDACTED***" {
		t.Errorf("fmt.Sprintf(%%v) = %q, want redacted placeholder", out)
	}
	if strings.Contains(out, "hunter2") {
		t.Error("formatted output leaked the secret value")
	}
}

// TestSecretStringRedactsInJSON verifies MarshalJSON returns the placeholder.
func TestSecretStringRedactsInJSON(t *testing.T) {
	payload := struct {
		APIKey SecretString `json:"api_key"`
	}{APIKey: "eph_live_abc123"}

	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("json.Marshal returned error: %v", err)
	}
	if strings.Contains(string(b), "eph_live_abc123") {
		t.Errorf("JSON output leaked the secret: %s", b)
	}
	if !strings.Contains(string(b), "***REDACTED***") {
		t.Errorf("JSON output missing placeholder: %s", b)
	}
}

// TestSecretStringUnmask verifies Unmask returns the raw value.
func TestSecretStringUnmask(t *testing.T) {
	secret := SecretString("raw-value")
	if secret.Unmask() != "raw-value" {
		t.Errorf("Unmask() = %q, want %q", secret.Unmask(), "raw-value")
	}
}

// TestSecretStringEmptyUnmask verifies the zero value round-trips as empty.
func TestSecretStringEmptyUnmask(t *testing.T) {
	var secret SecretString
	if secret.Unmask() != "" {
		t.Errorf("zero SecretString Unmask() = %q, want empty", secret.Unmask())
	}
}
