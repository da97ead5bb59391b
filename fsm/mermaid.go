package fsm

import (
	"fmt"
	"strings"

	"facette.io/natsort"
)

// Mermaid renders the definition as a Mermaid state diagram. States are
// listed in natural order so "s2" sorts before "s10"; transitions keep their
// evaluation order and are labelled with their guard and delay.
func (d *Definition) Mermaid() string {
	var sb strings.Builder

	sb.WriteString("stateDiagram-v2\n")

	initial := d.Default
	if initial == "" && len(d.States) > 0 {
		initial = d.States[0].Name
	}

	if initial != "" {
		fmt.Fprintf(&sb, "    [*] --> %s\n", initial)
	}

	byName := make(map[string]StateDefinition, len(d.States))
	names := make([]string, 0, len(d.States))

	for _, s := range d.States {
		byName[s.Name] = s
		names = append(names, s.Name)
	}

	natsort.Sort(names)

	for _, name := range names {
		state := byName[name]

		if len(state.Transitions) == 0 {
			fmt.Fprintf(&sb, "    %s --> [*]\n", name)

			continue
		}

		for _, t := range state.Transitions {
			fmt.Fprintf(&sb, "    %s --> %s%s\n", name, t.Target, transitionLabel(t))
		}
	}

	return sb.String()
}

func transitionLabel(t TransitionDefinition) string {
	var parts []string

	if t.After > 0 {
		parts = append(parts, "after "+t.After.String())
	}

	if t.Guard != "" {
		parts = append(parts, t.Guard)
	}

	if len(parts) == 0 {
		return ""
	}

	return ": " + strings.Join(parts, ", ")
}
