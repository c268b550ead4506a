package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders a result as stable text: the final state, the frame
// outcomes and the sink trace.
func Snapshot(result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "state: %s\n", result.State)
	if result.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", result.Error)
	}
	for _, f := range result.Frames {
		fmt.Fprintf(&b, "frame %g: %s steps=%d", f.Frame, f.Status, f.Steps)
		if f.Error != "" {
			fmt.Fprintf(&b, " error=%s", f.Error)
		}
		b.WriteString("\n")
	}
	for _, op := range result.Ops {
		b.WriteString(op)
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Only batch scenarios are deterministic enough for golden comparison.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(result))
}
