package fsm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/amp-labs/amp-fsm/errors"
	"github.com/amp-labs/amp-fsm/internal/testutil"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trafficLight = `
name: traffic-light
default: red
states:
  - name: red
    transitions:
      - target: green
        after: 30s
  - name: green
    transitions:
      - target: yellow
        guard: pedestrian-waiting
      - target: yellow
        after: 1m
  - name: yellow
    transitions:
      - target: red
        after: 5s
`

type crossing struct {
	waiting bool
}

func crossingGuards() GuardRegistry[*crossing] {
	return GuardRegistry[*crossing]{
		"pedestrian-waiting": func(_ context.Context, c *crossing, _ time.Time) bool {
			return c.waiting
		},
	}
}

func TestParseDefinition(t *testing.T) {
	t.Parallel()

	def, err := ParseDefinition([]byte(trafficLight))
	require.NoError(t, err)

	assert.Equal(t, "traffic-light", def.Name)
	assert.Equal(t, "red", def.Default)
	require.Len(t, def.States, 3)
	assert.Equal(t, 30*time.Second, def.States[0].Transitions[0].After)
	assert.Equal(t, "pedestrian-waiting", def.States[1].Transitions[0].Guard)
}

func TestParseDefinitionRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := ParseDefinition([]byte("name: x\nstates:\n  - name: a\n    colour: red\n"))
	require.ErrorIs(t, err, errors.ErrInvalidDefinition)
}

func TestDefinitionValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		def    Definition
		target error
	}{
		{
			name:   "no states",
			def:    Definition{Name: "empty"},
			target: errors.ErrNoStates,
		},
		{
			name: "duplicate state",
			def: Definition{Name: "dup", States: []StateDefinition{
				{Name: "a"}, {Name: "a"},
			}},
			target: errors.ErrDuplicateState,
		},
		{
			name: "unknown default",
			def: Definition{Name: "default", Default: "missing", States: []StateDefinition{
				{Name: "a"},
			}},
			target: errors.ErrStateNotFound,
		},
		{
			name: "unknown target",
			def: Definition{Name: "target", States: []StateDefinition{
				{Name: "a", Transitions: []TransitionDefinition{{Target: "b"}}},
			}},
			target: errors.ErrStateNotFound,
		},
		{
			name: "missing name",
			def: Definition{States: []StateDefinition{
				{Name: "a"},
			}},
			target: errors.ErrInvalidDefinition,
		},
		{
			name: "negative delay",
			def: Definition{Name: "delay", States: []StateDefinition{
				{Name: "a", Transitions: []TransitionDefinition{{Target: "a", After: -time.Second}}},
			}},
			target: errors.ErrInvalidDefinition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.def.Validate()
			require.ErrorIs(t, err, errors.ErrInvalidDefinition)
			require.ErrorIs(t, err, tt.target)
		})
	}
}

func TestDefinitionValidateReportsEverything(t *testing.T) {
	t.Parallel()

	def := Definition{Default: "nope", States: []StateDefinition{
		{Name: "a", Transitions: []TransitionDefinition{{Target: "b"}, {}}},
		{Name: "a"},
	}}

	err := def.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "machine name is required")
	assert.Contains(t, msg, `default state "nope"`)
	assert.Contains(t, msg, `targets "b"`)
	assert.Contains(t, msg, "has no target")
	assert.Contains(t, msg, "state already added")
}

func TestBuildAndRun(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	clock := testutil.NewManualClock()

	def, err := ParseDefinition([]byte(trafficLight))
	require.NoError(t, err)

	c := &crossing{}

	machine, err := Build(def, c, crossingGuards(), WithClock(clock.Now), WithLogger(slogt.New(t)))
	require.NoError(t, err)
	assert.Equal(t, "traffic-light", machine.Name())
	assert.Equal(t, "red", machine.DefaultState())
	require.Len(t, machine.States(), 3)

	require.NoError(t, machine.Start(ctx))
	assert.Equal(t, "red", machine.CurrentState().Name())

	machine.Tick(ctx, clock.Advance(29*time.Second), 29*time.Second)
	assert.Equal(t, "red", machine.CurrentState().Name())

	machine.Tick(ctx, clock.Advance(time.Second), time.Second)
	assert.Equal(t, "green", machine.CurrentState().Name())

	machine.Tick(ctx, clock.Advance(time.Second), time.Second)
	assert.Equal(t, "green", machine.CurrentState().Name())

	c.waiting = true
	machine.Tick(ctx, clock.Advance(time.Second), time.Second)
	assert.Equal(t, "yellow", machine.CurrentState().Name())

	machine.Tick(ctx, clock.Advance(5*time.Second), 5*time.Second)
	assert.Equal(t, "red", machine.CurrentState().Name())
}

func TestBuildMissingGuard(t *testing.T) {
	t.Parallel()

	def, err := ParseDefinition([]byte(trafficLight))
	require.NoError(t, err)

	_, err = Build(def, &crossing{}, GuardRegistry[*crossing]{})
	require.ErrorIs(t, err, errors.ErrInvalidDefinition)
	require.ErrorIs(t, err, errors.ErrGuardNotFound)
}

func TestLoadDefinitionFromFS(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"machines/light.yaml": {Data: []byte(trafficLight)},
	}

	def, err := LoadDefinitionFromFS(fsys, "machines/light.yaml")
	require.NoError(t, err)
	assert.Equal(t, "traffic-light", def.Name)

	_, err = LoadDefinitionFromFS(fsys, "machines/missing.yaml")
	require.Error(t, err)
}

func TestLoadDefinition(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "light.yaml")
	require.NoError(t, os.WriteFile(path, []byte(trafficLight), 0o600))

	def, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.Len(t, def.States, 3)

	_, err = LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefinitionMermaid(t *testing.T) {
	t.Parallel()

	def, err := ParseDefinition([]byte(trafficLight))
	require.NoError(t, err)

	expected := "stateDiagram-v2\n" +
		"    [*] --> red\n" +
		"    green --> yellow: pedestrian-waiting\n" +
		"    green --> yellow: after 1m0s\n" +
		"    red --> green: after 30s\n" +
		"    yellow --> red: after 5s\n"

	assert.Equal(t, expected, def.Mermaid())
}

func TestDefinitionMermaidNaturalOrder(t *testing.T) {
	t.Parallel()

	def := Definition{Name: "steps", States: []StateDefinition{
		{Name: "step10"},
		{Name: "step2", Transitions: []TransitionDefinition{{Target: "step10"}}},
		{Name: "step1", Transitions: []TransitionDefinition{{Target: "step2"}}},
	}}

	expected := "stateDiagram-v2\n" +
		"    [*] --> step10\n" +
		"    step1 --> step2\n" +
		"    step2 --> step10\n" +
		"    step10 --> [*]\n"

	assert.Equal(t, expected, def.Mermaid())
}
