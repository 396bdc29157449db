package model

// CallDescriptor is the immutable record of a single remote-call intent.
// It mirrors the JSON shape used by workflow task definitions, so a task
// entry unmarshals directly into one. The descriptor is built once per
// call; pagination re-executions mutate only the page-token entry of a
// copy of Args.
type CallDescriptor struct {
	Auth     string            `json:"auth" yaml:"auth"`
	Service  string            `json:"api" yaml:"api"`
	Version  string            `json:"version" yaml:"version"`
	Function string            `json:"function" yaml:"function"`
	Args     map[string]any    `json:"kwargs,omitempty" yaml:"kwargs,omitempty"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Iterate  bool              `json:"iterate,omitempty" yaml:"iterate,omitempty"`
	Limit    int               `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// String returns the dotted identity of the call, for logs.
func (d CallDescriptor) String() string {
	return d.Service + "." + d.Version + "." + d.Function
}

// Field is one leaf or group of a flat tabular schema. Object-typed
// fields become nested groups, array-typed fields repeated leaves or
// groups.
type Field struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Mode        string   `json:"mode"`
	Description string   `json:"description,omitempty"`
	Fields      []*Field `json:"fields,omitempty"`
}

// Field modes.
const (
	ModeNullable = "NULLABLE"
	ModeRepeated = "REPEATED"
)

// Composite field type for nested groups.
const TypeRecord = "RECORD"
