// Package uuid provides unit tests for identifier generation and validation.
package uuid

import (
	"testing"
)

// TestNew tests that New() generates valid UUID v4 strings.
func TestNew(t *testing.T) {
	id := New()

	if !IsValid(id) {
		t.Errorf("Generated id does not match v4 format: %s", id)
	}
}

// TestNewUniqueness tests that New() generates unique IDs.
func TestNewUniqueness(t *testing.T) {
	ids := make(map[string]bool)

	for i := 0; i < 1000; i++ {
		id := New()
		if ids[id] {
			t.Fatalf("Duplicate id generated: %s", id)
		}
		ids[id] = true
	}
}

// TestValidate tests accepted and rejected identifiers.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"valid v4", "f47ac10b-58cc-4372-a567-0e02b2c3d479", false},
		{"uppercase v4", "F47AC10B-58CC-4372-A567-0E02B2C3D479", false},
		{"v1 uuid", "f47ac10b-58cc-1372-a567-0e02b2c3d479", true},
		{"bad variant", "f47ac10b-58cc-4372-c567-0e02b2c3d479", true},
		{"no dashes", "f47ac10b58cc4372a5670e02b2c3d479", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}
