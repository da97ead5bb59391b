package fsm

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/amp-labs/amp-fsm/errors"
	"gopkg.in/yaml.v3"
)

// Definition describes a state table in YAML:
//
//	name: traffic-light
//	default: red
//	states:
//	  - name: red
//	    transitions:
//	      - target: green
//	        after: 30s
//	  - name: green
//	    transitions:
//	      - target: yellow
//	        guard: pedestrian-waiting
//
// Guards are referenced by name and resolved against a GuardRegistry when
// the machine is built.
type Definition struct {
	Name    string            `json:"name"    yaml:"name"`
	Default string            `json:"default" yaml:"default"`
	States  []StateDefinition `json:"states"  yaml:"states"`
}

// StateDefinition is one state and its outgoing transitions in evaluation
// order.
type StateDefinition struct {
	Name        string                 `json:"name"        yaml:"name"`
	Transitions []TransitionDefinition `json:"transitions" yaml:"transitions"`
}

// TransitionDefinition is an edge. With neither Guard nor After set it always
// applies. With both set it applies once After has passed and the guard holds.
type TransitionDefinition struct {
	Target string        `json:"target" yaml:"target"`
	Guard  string        `json:"guard"  yaml:"guard"`
	After  time.Duration `json:"after"  yaml:"after"`
}

// GuardRegistry maps guard names used in definitions to guard functions.
type GuardRegistry[C any] map[string]Guard[C]

// ParseDefinition decodes and validates a YAML definition. Unknown fields are
// rejected.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %w", errors.ErrInvalidDefinition, err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

// LoadDefinition reads a definition from a file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Intentional path-based loading
	if err != nil {
		return nil, fmt.Errorf("failed to read definition %q: %w", path, err)
	}

	return ParseDefinition(data)
}

// LoadDefinitionFromFS reads a definition from fsys, typically an embed.FS.
func LoadDefinitionFromFS(fsys fs.FS, path string) (*Definition, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition %q: %w", path, err)
	}

	return ParseDefinition(data)
}

// Validate checks the definition's structure and reports every problem it
// finds, wrapped in ErrInvalidDefinition.
func (d *Definition) Validate() error {
	var errs errors.Collection

	if d.Name == "" {
		errs.Addf("machine name is required")
	}

	if len(d.States) == 0 {
		errs.Add(errors.ErrNoStates)
	}

	names := make(map[string]bool, len(d.States))

	for i, state := range d.States {
		if state.Name == "" {
			errs.Addf("state %d has no name", i)

			continue
		}

		if names[state.Name] {
			errs.Add(fmt.Errorf("%w: %s", errors.ErrDuplicateState, state.Name))
		}

		names[state.Name] = true
	}

	if d.Default != "" && !names[d.Default] {
		errs.Add(fmt.Errorf("%w: default state %q", errors.ErrStateNotFound, d.Default))
	}

	for _, state := range d.States {
		for j, t := range state.Transitions {
			switch {
			case t.Target == "":
				errs.Addf("transition %d of state %q has no target", j, state.Name)
			case !names[t.Target]:
				errs.Add(fmt.Errorf("%w: transition %d of state %q targets %q",
					errors.ErrStateNotFound, j, state.Name, t.Target))
			}

			if t.After < 0 {
				errs.Addf("transition %d of state %q has negative delay %s", j, state.Name, t.After)
			}
		}
	}

	if errs.HasError() {
		return fmt.Errorf("%w: %w", errors.ErrInvalidDefinition, errs.GetError())
	}

	return nil
}

// Build creates a stopped machine from def. Every guard named in def must be
// present in guards. The definition's name and default state override
// WithName and WithDefaultState.
func Build[C any](def *Definition, c C, guards GuardRegistry[C], opts ...Option) (*Machine[C], error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	var errs errors.Collection

	opts = append(opts, WithName(def.Name), WithDefaultState(def.Default))
	machine := NewMachine(c, opts...)

	for _, sd := range def.States {
		state := NewState[C](sd.Name)

		for _, td := range sd.Transitions {
			var guard Guard[C]

			if td.Guard != "" {
				g, found := guards[td.Guard]
				if !found {
					errs.Add(fmt.Errorf("%w: %q used by state %q", errors.ErrGuardNotFound, td.Guard, sd.Name))

					continue
				}

				guard = g
			}

			var transition Transition[C]
			if td.After > 0 {
				transition = NewTimedTransition(state, td.Target, td.After, guard)
			} else {
				transition = NewTransition(td.Target, guard)
			}

			errs.Add(state.AddTransition(transition))
		}

		errs.Add(machine.AddState(state))
	}

	if errs.HasError() {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidDefinition, errs.GetError())
	}

	return machine, nil
}
