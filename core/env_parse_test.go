package core

import (
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	const key = "EDIT_WORKER_TEST_ENV"

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"set", "custom", "custom"},
		{"empty", "", "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(key, tt.value)
			if got := GetEnvOrDefault(key, "fallback"); got != tt.want {
				t.Errorf("GetEnvOrDefault() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		in     string
		want   bool
		wantOK bool
	}{
		{"true", true, true},
		{"TRUE", true, true},
		{"1", true, true},
		{"yes", true, true},
		{" on ", true, true},
		{"false", false, true},
		{"0", false, true},
		{"No", false, true},
		{"off", false, true},
		{"enabled", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseBool(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseBool(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30", 30 * time.Second, false},
		{"0", 0, false},
		{"1m30s", 90 * time.Second, false},
		{" 500ms ", 500 * time.Millisecond, false},
		{"-5", 0, true},
		{"-1s", 0, true},
		{"later", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestOverrideHelpers(t *testing.T) {
	t.Setenv("EW_INT", " 42 ")
	t.Setenv("EW_FLOAT", "2.5")
	t.Setenv("EW_BAD_INT", "4x")
	t.Setenv("EW_BLANK", "  ")

	n := 7
	if err := overrideInt("EW_INT", &n); err != nil || n != 42 {
		t.Errorf("overrideInt = %d, %v; want 42, nil", n, err)
	}
	f := 1.0
	if err := overrideFloat("EW_FLOAT", &f); err != nil || f != 2.5 {
		t.Errorf("overrideFloat = %v, %v; want 2.5, nil", f, err)
	}

	n = 7
	err := overrideInt("EW_BAD_INT", &n)
	if GetErrorCode(err) != ErrCodeInvalidValue || n != 7 {
		t.Errorf("overrideInt bad = %d, %v; want 7 and %s", n, err, ErrCodeInvalidValue)
	}

	s := "kept"
	overrideString("EW_BLANK", &s)
	if s != "kept" {
		t.Errorf("blank value overrode: %q", s)
	}
	if err := overrideInt("EW_UNSET_KEY", &n); err != nil || n != 7 {
		t.Errorf("unset key changed value: %d, %v", n, err)
	}
}
