package audit

import (
	"encoding/json"
	"testing"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain params untouched",
			input: `{"path":"/tmp/file","count":3}`,
			want:  `{"path":"/tmp/file","count":3}`,
		},
		{
			name:  "token key redacted",
			input: `{"api_token":"abc123"}`,
			want:  `{"api_token":"[REDACTED]"}`,
		},
		{
			name:  "case insensitive match",
			input: `{"Password":"hunter2"}`,
			want:  `{"Password":"[REDACTED]"}`,
		},
		{
			name:  "nested object redacted",
			input: `{"config":{"secret_key":"s3cr3t","host":"example.com"}}`,
			want:  `{"config":{"host":"example.com","secret_key":"[REDACTED]"}}`,
		},
		{
			name:  "non-object passes through",
			input: `[1,2,3]`,
			want:  `[1,2,3]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Redact(json.RawMessage(tt.input))
			if !jsonEquivalent(t, got, json.RawMessage(tt.want)) {
				t.Errorf("Redact(%s) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestRedactEmpty(t *testing.T) {
	if got := Redact(nil); got != nil {
		t.Errorf("Redact(nil) = %s, want nil", got)
	}
}

// jsonEquivalent compares two JSON payloads ignoring key order.
func jsonEquivalent(t *testing.T, a, b json.RawMessage) bool {
	t.Helper()
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		t.Fatalf("unmarshal %s: %v", a, err)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	aj, _ := json.Marshal(av)
	bj, _ := json.Marshal(bv)
	return string(aj) == string(bj)
}
