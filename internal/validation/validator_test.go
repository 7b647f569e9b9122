// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package validation

import (
	"strings"
	"testing"
)

type testStreamSpec struct {
	ID       string `validate:"required,subjecttoken"`
	Policy   string `validate:"omitempty,oneof=all any"`
	Replicas int    `validate:"min=1,max=5"`
}

func TestValidateStructValid(t *testing.T) {
	spec := testStreamSpec{
		ID:       "occupancy",
		Policy:   "all",
		Replicas: 3,
	}

	if err := ValidateStruct(&spec); err != nil {
		t.Fatalf("expected valid struct, got: %v", err)
	}
}

func TestValidateStructRequired(t *testing.T) {
	spec := testStreamSpec{Replicas: 1}

	err := ValidateStruct(&spec)
	if err == nil {
		t.Fatal("expected validation error for missing ID")
	}

	errs := err.Errors()
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d: %v", len(errs), err)
	}

	if errs[0].Field() != "ID" {
		t.Errorf("expected field ID, got %s", errs[0].Field())
	}
	if errs[0].Tag() != "required" {
		t.Errorf("expected tag required, got %s", errs[0].Tag())
	}
	if !strings.Contains(err.Error(), "ID is required") {
		t.Errorf("expected readable message, got: %v", err)
	}
}

func TestSubjectTokenValidator(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"simple token", "occupancy", true},
		{"with hyphen", "occupancy-15m", true},
		{"with underscore", "meeting_rooms", true},
		{"mixed case", "FloorThree", true},
		{"embedded space", "floor three", false},
		{"embedded dot", "occupancy.hourly", false},
		{"single wildcard", "occupancy*", false},
		{"full wildcard", ">", false},
		{"embedded tab", "floor\tthree", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := testStreamSpec{ID: tt.id, Replicas: 1}

			err := ValidateStruct(&spec)
			if tt.valid && err != nil {
				t.Errorf("expected %q to be valid, got: %v", tt.id, err)
			}
			if !tt.valid {
				if err == nil {
					t.Fatalf("expected %q to be rejected", tt.id)
				}
				if err.Errors()[0].Tag() != "subjecttoken" {
					t.Errorf("expected subjecttoken tag, got %s", err.Errors()[0].Tag())
				}
				if !strings.Contains(err.Error(), "subject token") {
					t.Errorf("expected subject token message, got: %v", err)
				}
			}
		})
	}
}

func TestValidateStructCollectsAllErrors(t *testing.T) {
	spec := testStreamSpec{
		ID:       "bad id",
		Policy:   "most",
		Replicas: 0,
	}

	err := ValidateStruct(&spec)
	if err == nil {
		t.Fatal("expected validation errors")
	}

	errs := err.Errors()
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), err)
	}

	// Joined message lists every failed field
	msg := err.Error()
	for _, want := range []string{"subject token", "must be one of", "at least 1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected message to contain %q, got: %s", want, msg)
		}
	}
}

func TestValidateStructOneofMessage(t *testing.T) {
	spec := testStreamSpec{ID: "occupancy", Policy: "some", Replicas: 1}

	err := ValidateStruct(&spec)
	if err == nil {
		t.Fatal("expected validation error for bad policy")
	}

	if !strings.Contains(err.Error(), "Policy must be one of: all any") {
		t.Errorf("expected oneof message with params, got: %v", err)
	}
}

func TestValidateStructMinMaxMessages(t *testing.T) {
	type bounds struct {
		Name  string `validate:"required,min=3"`
		Count int    `validate:"max=10"`
	}

	t.Run("string min is a length message", func(t *testing.T) {
		err := ValidateStruct(&bounds{Name: "ab", Count: 5})
		if err == nil {
			t.Fatal("expected validation error")
		}
		if !strings.Contains(err.Error(), "at least 3 entries or characters") {
			t.Errorf("expected length wording, got: %v", err)
		}
	})

	t.Run("numeric max is a magnitude message", func(t *testing.T) {
		err := ValidateStruct(&bounds{Name: "abc", Count: 11})
		if err == nil {
			t.Fatal("expected validation error")
		}
		if !strings.Contains(err.Error(), "Count must be at most 10") {
			t.Errorf("expected magnitude wording, got: %v", err)
		}
	})
}

func TestValidateStructNonStruct(t *testing.T) {
	err := ValidateStruct(42)
	if err == nil {
		t.Fatal("expected error for non-struct argument")
	}

	errs := err.Errors()
	if len(errs) != 1 || errs[0].Field() != "unknown" {
		t.Errorf("expected single unknown-field error, got: %v", err)
	}
}

func TestValidationErrorAccessors(t *testing.T) {
	spec := testStreamSpec{ID: "occupancy", Policy: "none", Replicas: 1}

	err := ValidateStruct(&spec)
	if err == nil {
		t.Fatal("expected validation error")
	}

	fe := err.Errors()[0]
	if fe.Field() != "Policy" {
		t.Errorf("Field() = %s, want Policy", fe.Field())
	}
	if fe.Tag() != "oneof" {
		t.Errorf("Tag() = %s, want oneof", fe.Tag())
	}
	if fe.Param() != "all any" {
		t.Errorf("Param() = %s, want 'all any'", fe.Param())
	}
	if fe.Value() != "none" {
		t.Errorf("Value() = %v, want none", fe.Value())
	}
}

func TestGetValidatorSingleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 != v2 {
		t.Error("expected GetValidator to return the same instance")
	}
}
