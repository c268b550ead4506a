package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/scenebridge/internal/host"
	"github.com/roach88/scenebridge/internal/sink"
)

// Scenario defines a render scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Scene is the path of the scene document. Relative paths are resolved
	// against the scenario file's directory.
	Scene string `yaml:"scene"`

	// Settings is an optional render globals file (.cue or .yaml),
	// resolved like Scene.
	Settings string `yaml:"settings,omitempty"`

	// Mode is "batch" (default) or "interactive".
	Mode string `yaml:"mode,omitempty"`

	// Region is an optional crop window set before the render starts.
	Region *sink.Rect `yaml:"region,omitempty"`

	// FailOn injects sink failures.
	FailOn []Failure `yaml:"fail_on,omitempty"`

	// Edits are applied one by one in interactive mode, each after the
	// previous render finished.
	Edits []Edit `yaml:"edits,omitempty"`

	// Assertions validate the final trace and ledger.
	Assertions []Assertion `yaml:"assertions"`

	// SessionID is an optional fixed session id.
	// If empty, defaults to "test-session".
	SessionID string `yaml:"session_id,omitempty"`
}

// Failure makes a sink operation fail.
type Failure struct {
	// Op is the sink operation: init, assembly, instance, place or render.
	Op string `yaml:"op"`

	// Name restricts the failure to one entity. Empty matches any.
	Name string `yaml:"name,omitempty"`

	// Error is the error message.
	Error string `yaml:"error"`

	// Fatal wraps the error in sink.ErrSessionFatal.
	Fatal bool `yaml:"fatal,omitempty"`

	// Once fails only the first matching call.
	Once bool `yaml:"once,omitempty"`
}

// Edit is one host edit applied during an interactive session.
type Edit struct {
	// Op is one of translate, visible, attribute, add, remove, region,
	// pause or resume.
	Op string `yaml:"op"`

	// Node is the edited node path; the parent for add.
	Node string `yaml:"node,omitempty"`

	Translate []float64      `yaml:"translate,omitempty"`
	Visible   *bool          `yaml:"visible,omitempty"`
	Attribute string         `yaml:"attribute,omitempty"`
	Value     any            `yaml:"value,omitempty"`
	Add       *host.NodeSpec `yaml:"add,omitempty"`
	Region    *sink.Rect     `yaml:"region,omitempty"`
}

// Assertion validates the trace, the ledger or the session outcome.
type Assertion struct {
	// Type specifies the assertion type, see the Assert constants.
	Type string `yaml:"type"`

	// Op is the exact sink operation (sink_contains, sink_absent).
	Op string `yaml:"op,omitempty"`

	// Ops is the expected operation order (sink_order).
	Ops []string `yaml:"ops,omitempty"`

	// Prefix selects the counted operations (sink_count).
	Prefix string `yaml:"prefix,omitempty"`

	// Count is the expected number of operations (sink_count).
	Count int `yaml:"count,omitempty"`

	// Table is the ledger table name (final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (final_state).
	// All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values (final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// State is the expected render state (render_state).
	State string `yaml:"state,omitempty"`

	// Text is the expected error substring (error_contains).
	Text string `yaml:"text,omitempty"`
}

// Assertion type constants.
const (
	AssertSinkContains  = "sink_contains"
	AssertSinkAbsent    = "sink_absent"
	AssertSinkOrder     = "sink_order"
	AssertSinkCount     = "sink_count"
	AssertFinalState    = "final_state"
	AssertRenderState   = "render_state"
	AssertErrorContains = "error_contains"
)

// Edit operation constants.
const (
	EditTranslate = "translate"
	EditVisible   = "visible"
	EditAttribute = "attribute"
	EditAdd       = "add"
	EditRemove    = "remove"
	EditRegion    = "region"
	EditPause     = "pause"
	EditResume    = "resume"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML, resolving relative scene and settings
// paths against basePath.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	scenario.Scene = resolve(basePath, scenario.Scene)
	scenario.Settings = resolve(basePath, scenario.Settings)

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) || base == "" {
		return path
	}
	return filepath.Join(base, path)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Scene == "" {
		return fmt.Errorf("scene is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, path := range []string{s.Scene, s.Settings} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", path)
		}
	}

	switch s.Mode {
	case "", "batch":
		if len(s.Edits) > 0 {
			return fmt.Errorf("edits require mode interactive")
		}
	case "interactive":
	default:
		return fmt.Errorf("unknown mode %q", s.Mode)
	}

	for i, f := range s.FailOn {
		switch f.Op {
		case "init", "assembly", "instance", "place", "render":
		default:
			return fmt.Errorf("fail_on[%d]: unknown op %q", i, f.Op)
		}
		if f.Error == "" {
			return fmt.Errorf("fail_on[%d]: error is required", i)
		}
	}

	for i, e := range s.Edits {
		if err := validateEdit(i, &e); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateEdit(index int, e *Edit) error {
	nodeless := e.Op == EditRegion || e.Op == EditPause || e.Op == EditResume
	if !nodeless && e.Node == "" {
		return fmt.Errorf("edits[%d]: node is required for %s", index, e.Op)
	}
	switch e.Op {
	case EditTranslate:
		if len(e.Translate) != 3 {
			return fmt.Errorf("edits[%d]: translate needs 3 components", index)
		}
	case EditVisible:
		if e.Visible == nil {
			return fmt.Errorf("edits[%d]: visible is required", index)
		}
	case EditAttribute:
		if e.Attribute == "" {
			return fmt.Errorf("edits[%d]: attribute is required", index)
		}
	case EditAdd:
		if e.Add == nil || e.Add.Name == "" {
			return fmt.Errorf("edits[%d]: add needs a node with a name", index)
		}
	case EditRemove, EditPause, EditResume:
	case EditRegion:
		if e.Region == nil || e.Region.Empty() {
			return fmt.Errorf("edits[%d]: region must cover pixels", index)
		}
	default:
		return fmt.Errorf("edits[%d]: unknown op %q", index, e.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertSinkContains, AssertSinkAbsent:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for %s", index, a.Type)
		}
	case AssertSinkOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for sink_order", index)
		}
	case AssertSinkCount:
		if a.Prefix == "" {
			return fmt.Errorf("assertions[%d]: prefix is required for sink_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for sink_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertRenderState:
		if a.State == "" {
			return fmt.Errorf("assertions[%d]: state is required for render_state", index)
		}
	case AssertErrorContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for error_contains", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
