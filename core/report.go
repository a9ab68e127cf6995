package core

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

// StepStatus is the outcome of one startup step.
type StepStatus int

const (
	StepPassed StepStatus = iota
	StepWarning
	StepFailed
	StepSkipped
)

// String returns the string representation of a step status.
func (s StepStatus) String() string {
	switch s {
	case StepPassed:
		return "passed"
	case StepWarning:
		return "warning"
	case StepFailed:
		return "failed"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Step is one line of the startup report.
type Step struct {
	Name    string
	Status  StepStatus
	Message string
	Error   error
}

// StartupReport prints a colored checklist of what the worker did while
// starting. Steps are printed as they are added.
type StartupReport struct {
	mu     sync.Mutex
	output io.Writer
	start  time.Time
	steps  []Step
}

// NewStartupReport prints title and returns a report writing to w
// (stdout when nil).
func NewStartupReport(w io.Writer, title string) *StartupReport {
	if w == nil {
		w = os.Stdout
	}
	r := &StartupReport{output: w, start: time.Now()}

	fmt.Fprintln(w)
	color.New(color.FgCyan, color.Bold).Fprintf(w, "━━━ %s ━━━\n", title)
	fmt.Fprintln(w)
	return r
}

// Pass records a successful step.
func (r *StartupReport) Pass(name, message string) {
	r.add(Step{Name: name, Status: StepPassed, Message: message})
}

// Warn records a step that failed without stopping startup.
func (r *StartupReport) Warn(name, message string, err error) {
	r.add(Step{Name: name, Status: StepWarning, Message: message, Error: err})
}

// Fail records a step that stops startup.
func (r *StartupReport) Fail(name string, err error) {
	r.add(Step{Name: name, Status: StepFailed, Error: err})
}

// Skip records a step that did not apply.
func (r *StartupReport) Skip(name, message string) {
	r.add(Step{Name: name, Status: StepSkipped, Message: message})
}

func (r *StartupReport) add(step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
	r.printStep(step)
}

// Steps returns a copy of the recorded steps.
func (r *StartupReport) Steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Step(nil), r.steps...)
}

// Failed reports whether any step failed.
func (r *StartupReport) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.steps {
		if s.Status == StepFailed {
			return true
		}
	}
	return false
}

// Finish prints the summary line.
func (r *StartupReport) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var passed, warned, failed int
	for _, s := range r.steps {
		switch s.Status {
		case StepPassed:
			passed++
		case StepWarning:
			warned++
		case StepFailed:
			failed++
		}
	}

	fmt.Fprintln(r.output)
	dim := color.New(color.FgHiBlack)
	if failed == 0 {
		ok := color.New(color.FgGreen, color.Bold)
		ok.Fprintf(r.output, "━━━ Ready ")
		dim.Fprintf(r.output, "(%d passed, %d warnings in %v)", passed, warned, time.Since(r.start).Round(time.Millisecond))
		ok.Fprintln(r.output, " ━━━")
	} else {
		bad := color.New(color.FgRed, color.Bold)
		bad.Fprintf(r.output, "━━━ Startup Failed ")
		dim.Fprintf(r.output, "(%d passed, %d failed)", passed, failed)
		bad.Fprintln(r.output, " ━━━")
	}
	fmt.Fprintln(r.output)
}

func (r *StartupReport) printStep(step Step) {
	var icon string
	var clr *color.Color

	switch step.Status {
	case StepPassed:
		icon, clr = "✓", color.New(color.FgGreen)
	case StepWarning:
		icon, clr = "!", color.New(color.FgYellow)
	case StepFailed:
		icon, clr = "✗", color.New(color.FgRed)
	case StepSkipped:
		icon, clr = "○", color.New(color.FgHiBlack)
	default:
		icon, clr = "?", color.New(color.FgWhite)
	}

	clr.Fprintf(r.output, "  %s %s", icon, step.Name)
	if step.Message != "" {
		color.New(color.FgHiBlack).Fprintf(r.output, " - %s", step.Message)
	}
	fmt.Fprintln(r.output)

	if step.Error == nil || step.Status == StepPassed || step.Status == StepSkipped {
		return
	}
	errColor := color.New(color.FgRed)
	if step.Status == StepWarning {
		errColor = color.New(color.FgYellow)
	}
	for _, e := range flatten(step.Error) {
		errColor.Fprintf(r.output, "    └─ %s\n", e.Error())
	}
}

// flatten expands joined errors so each problem gets its own line.
func flatten(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}
