package workflow

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/discoflow/discoflow/model"
)

func TestSchedule_Due(t *testing.T) {
	// 2026-03-02 is a Monday.
	monday6 := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	sunday6 := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	monday9 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		schedule Schedule
		now      time.Time
		want     bool
	}{
		{"unrestricted", Schedule{}, sunday6, true},
		{"day matches", Schedule{Days: []string{"Monday"}}, monday6, true},
		{"abbreviated day matches", Schedule{Days: []string{"mon"}}, monday6, true},
		{"day excluded", Schedule{Days: []string{"Monday"}}, sunday6, false},
		{"hour matches", Schedule{Hours: []int{6}}, monday6, true},
		{"hour excluded", Schedule{Hours: []int{6}}, monday9, false},
		{"both match", Schedule{Days: []string{"Monday"}, Hours: []int{6}}, monday6, true},
		{"day matches hour excluded", Schedule{Days: []string{"Monday"}, Hours: []int{6}}, monday9, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.schedule.Due(tt.now); got != tt.want {
				t.Errorf("Due(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestRunner_Run_tasksInOrder(t *testing.T) {
	r := NewRunner(nil, nil)
	var seen []string
	r.Register("record", func(ctx context.Context, task Task) error {
		seen = append(seen, task.Params["step"].(string))
		return nil
	})

	wf := Workflow{
		Name: "ordered",
		Tasks: []Task{
			{Handler: "record", Params: map[string]any{"step": "one"}},
			{Handler: "record", Params: map[string]any{"step": "two"}},
			{Handler: "record", Params: map[string]any{"step": "three"}},
		},
	}
	if err := r.Run(context.Background(), wf); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if strings.Join(seen, ",") != "one,two,three" {
		t.Errorf("tasks ran as %v, want file order", seen)
	}
}

func TestRunner_Run_stopsOnFirstFailure(t *testing.T) {
	r := NewRunner(nil, nil)
	boom := errors.New("task blew up")
	ran := 0
	r.Register("ok", func(ctx context.Context, task Task) error { ran++; return nil })
	r.Register("fail", func(ctx context.Context, task Task) error { return boom })

	wf := Workflow{
		Name: "failing",
		Tasks: []Task{
			{Handler: "ok"},
			{Handler: "fail"},
			{Handler: "ok"},
		},
	}
	err := r.Run(context.Background(), wf)
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want the task failure", err)
	}
	if ran != 1 {
		t.Errorf("subsequent tasks ran %d times, want run to stop at the failure", ran)
	}
}

func TestRunner_Run_unknownHandler(t *testing.T) {
	r := NewRunner(nil, nil)
	wf := Workflow{Name: "bad", Tasks: []Task{{Handler: "ghost"}}}
	if err := r.Run(context.Background(), wf); err == nil {
		t.Fatal("Run() with unregistered handler should return error")
	}
}

func TestRunner_Run_runContextAttached(t *testing.T) {
	r := NewRunner(nil, nil)
	var got *model.RunContext
	r.Register("capture", func(ctx context.Context, task Task) error {
		got = model.RunContextFrom(ctx)
		return nil
	})

	wf := Workflow{
		Name:  "ctx",
		Auth:  "service",
		Tasks: []Task{{Handler: "capture"}},
	}
	if err := r.Run(context.Background(), wf); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got == nil {
		t.Fatal("no RunContext on the task context")
	}
	if got.Workflow != "ctx" || got.Auth != "service" || got.RunID == "" {
		t.Errorf("RunContext = %+v", got)
	}
}

func TestRunner_Run_workflowAuthIsTaskDefault(t *testing.T) {
	r := NewRunner(nil, nil)
	var auths []string
	r.Register("capture", func(ctx context.Context, task Task) error {
		auths = append(auths, task.Auth)
		return nil
	})

	wf := Workflow{
		Name: "auth-default",
		Auth: "service",
		Tasks: []Task{
			{Handler: "capture"},
			{Handler: "capture", Auth: "user"},
		},
	}
	if err := r.Run(context.Background(), wf); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if auths[0] != "service" || auths[1] != "user" {
		t.Errorf("auths = %v, want workflow default then task override", auths)
	}
}

func TestRunner_RunDue(t *testing.T) {
	r := NewRunner(nil, nil)
	ran := false
	r.Register("mark", func(ctx context.Context, task Task) error { ran = true; return nil })

	wf := Workflow{
		Name:     "gated",
		Schedule: Schedule{Hours: []int{6}},
		Tasks:    []Task{{Handler: "mark"}},
	}

	off, err := r.RunDue(context.Background(), wf, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	if err != nil || off {
		t.Fatalf("RunDue(off-hour) = %v, %v; want false, nil", off, err)
	}
	if ran {
		t.Fatal("workflow ran outside its schedule")
	}

	on, err := r.RunDue(context.Background(), wf, time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC))
	if err != nil || !on {
		t.Fatalf("RunDue(on-hour) = %v, %v; want true, nil", on, err)
	}
	if !ran {
		t.Fatal("workflow did not run inside its schedule")
	}
}

func TestJSONLinesSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONLinesSink(&buf)

	rows := []any{
		map[string]any{"id": "w1"},
		map[string]any{"id": "w2"},
	}
	for _, row := range rows {
		if err := sink.WriteRow(context.Background(), row); err != nil {
			t.Fatalf("WriteRow() error = %v", err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2", len(lines))
	}
	if lines[0] != `{"id":"w1"}` {
		t.Errorf("line[0] = %q", lines[0])
	}
}

func TestCallDescriptor_fromTaskParams(t *testing.T) {
	task := Task{
		Handler: "api",
		Auth:    "service",
		Params: map[string]any{
			"api":      "reportsvc",
			"version":  "v1",
			"function": "reports.files.list",
			"kwargs":   map[string]any{"reportId": "r-9"},
			"iterate":  true,
			"limit":    50,
		},
	}
	descriptor, err := callDescriptor(task)
	if err != nil {
		t.Fatalf("callDescriptor() error = %v", err)
	}
	if descriptor.Service != "reportsvc" || descriptor.Function != "reports.files.list" {
		t.Errorf("descriptor = %+v", descriptor)
	}
	if descriptor.Auth != "service" {
		t.Errorf("Auth = %q, want the task auth as default", descriptor.Auth)
	}
	if !descriptor.Iterate || descriptor.Limit != 50 {
		t.Errorf("Iterate/Limit = %v/%d", descriptor.Iterate, descriptor.Limit)
	}
	if descriptor.Args["reportId"] != "r-9" {
		t.Errorf("Args = %v", descriptor.Args)
	}
}

func TestCallDescriptor_missingFunction(t *testing.T) {
	task := Task{Handler: "api", Params: map[string]any{"api": "svc"}}
	if _, err := callDescriptor(task); err == nil {
		t.Fatal("callDescriptor() without function should return error")
	}
}

func TestCallDescriptor_explicitAuthWins(t *testing.T) {
	task := Task{
		Handler: "api",
		Auth:    "service",
		Params: map[string]any{
			"api":      "svc",
			"version":  "v1",
			"function": "a.b",
			"auth":     "user",
		},
	}
	descriptor, err := callDescriptor(task)
	if err != nil {
		t.Fatalf("callDescriptor() error = %v", err)
	}
	if descriptor.Auth != "user" {
		t.Errorf("Auth = %q, want the explicit param to win", descriptor.Auth)
	}
}
