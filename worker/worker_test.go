package worker

import (
	"os"
	"testing"
	"time"
)

// chdir changes the working directory for the duration of the test,
// mirroring testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}

func TestResolveMode(t *testing.T) {
	// Run in an empty directory so no stray test_input.json is picked up.
	chdir(t, t.TempDir())

	tests := []struct {
		name      string
		mode      string
		testInput string
		takeURL   string
		want      string
		wantErr   bool
	}{
		{name: "explicit queue", mode: "queue", want: ModeQueue},
		{name: "explicit api ignores take URL", mode: "API", takeURL: "http://q", want: ModeAPI},
		{name: "explicit test", mode: "test", want: ModeTest},
		{name: "auto with inline input", mode: "auto", testInput: "{}", takeURL: "http://q", want: ModeTest},
		{name: "auto with take URL", mode: "auto", takeURL: "http://q", want: ModeQueue},
		{name: "empty defaults to auto", want: ModeAPI},
		{name: "unknown", mode: "batch", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveMode(tt.mode, tt.testInput, tt.takeURL)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveMode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ResolveMode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveMode_DetectsTestInputFile(t *testing.T) {
	chdir(t, t.TempDir())
	if err := os.WriteFile(DefaultTestInputFile, []byte(`{"input":{}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveMode(ModeAuto, "", "http://q")
	if err != nil || got != ModeTest {
		t.Errorf("ResolveMode() = %q, %v; want test", got, err)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{500 * time.Millisecond, "0s"},
		{45 * time.Second, "45s"},
		{2*time.Minute + 30*time.Second, "2m 30s"},
		{2*time.Hour + 34*time.Minute, "2h 34m"},
		{3*24*time.Hour + 5*time.Hour, "3d 5h"},
		{17 * 24 * time.Hour, "2w 3d"},
		{-5 * time.Minute, "-5m 0s"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
