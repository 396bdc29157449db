// Package workflow loads task-list workflow files and runs their tasks
// sequentially against the call engine.
package workflow

import (
	"strings"
	"time"
)

// Task is one unit of work within a workflow. The handler name selects a
// registered task handler; everything else is handler-specific.
type Task struct {
	Handler string         `yaml:"handler" json:"handler"`
	Auth    string         `yaml:"auth,omitempty" json:"auth,omitempty"`
	Params  map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Schedule gates a workflow run to certain weekdays and hours. Empty
// lists mean no restriction on that axis.
type Schedule struct {
	Days  []string `yaml:"days,omitempty" json:"days,omitempty"`
	Hours []int    `yaml:"hours,omitempty" json:"hours,omitempty"`
}

// Due reports whether the schedule admits a run at the given local time.
func (s Schedule) Due(now time.Time) bool {
	if len(s.Days) > 0 {
		day := now.Weekday().String()
		matched := false
		for _, want := range s.Days {
			if strings.EqualFold(want, day) || strings.EqualFold(want, day[:3]) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(s.Hours) > 0 {
		hour := now.Hour()
		matched := false
		for _, want := range s.Hours {
			if want == hour {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Workflow is a named, optionally scheduled task list. Checksum and
// SourceFile are filled by the loader.
type Workflow struct {
	Name     string   `yaml:"name,omitempty" json:"name,omitempty"`
	Auth     string   `yaml:"auth,omitempty" json:"auth,omitempty"`
	Schedule Schedule `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Tasks    []Task   `yaml:"tasks" json:"tasks"`

	Checksum   string `yaml:"-" json:"-"`
	SourceFile string `yaml:"-" json:"-"`
}
