package core

import "testing"

func TestRedactSensitiveMapPreservesTraceabilityMetadata(t *testing.T) {
	redacted := RedactSensitiveMap(map[string]any{
		"trace_id":      "trace_1",
		"request_id":    "req_1",
		"job_id":        "job_1",
		"access_token":  "secret-token",
		"authorization": "Bearer secret-token",
		"nested":        map[string]any{"refresh_token": "refresh", "trace_id": "trace_nested"},
		"events":        []any{map[string]any{"api_key": "key_1"}, map[string]any{"registration_id": "reg_1"}},
		"lane":          "webhooks",
	})

	if redacted["trace_id"] != "trace_1" {
		t.Fatalf("expected trace_id to remain visible, got %#v", redacted["trace_id"])
	}
	if redacted["job_id"] != "job_1" {
		t.Fatalf("expected job_id to remain visible, got %#v", redacted["job_id"])
	}
	if redacted["access_token"] != RedactedValue {
		t.Fatalf("expected access_token to be redacted, got %#v", redacted["access_token"])
	}
	nested, ok := redacted["nested"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested redacted map")
	}
	if nested["refresh_token"] != RedactedValue {
		t.Fatalf("expected nested refresh_token to be redacted, got %#v", nested["refresh_token"])
	}
	if nested["trace_id"] != "trace_nested" {
		t.Fatalf("expected nested trace_id to remain visible, got %#v", nested["trace_id"])
	}
}

func TestRedactHeadersMasksCredentialBearingValues(t *testing.T) {
	redacted := RedactHeaders(map[string]string{
		"Authorization":   "Bearer secret-token",
		"X-Api-Key":       "key_1",
		"X-Custom-Header": "visible",
		"Content-Type":    "application/json",
	})

	if redacted["Authorization"] != RedactedValue {
		t.Fatalf("expected authorization header to be redacted, got %q", redacted["Authorization"])
	}
	if redacted["X-Api-Key"] != RedactedValue {
		t.Fatalf("expected api key header to be redacted, got %q", redacted["X-Api-Key"])
	}
	if redacted["X-Custom-Header"] != "visible" {
		t.Fatalf("expected custom header to remain visible, got %q", redacted["X-Custom-Header"])
	}
	if redacted["Content-Type"] != "application/json" {
		t.Fatalf("expected content type to remain visible, got %q", redacted["Content-Type"])
	}
}
