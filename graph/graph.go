// Package graph resolves step dependency graphs into execution order.
// The resolver is a pure function over a map of step id → dependency ids;
// it holds no state and is safe for concurrent use.
package graph

import "fmt"

// CycleError reports a dependency cycle. Step names the node where the
// cycle was detected (a node reached again while its own visit was still
// in progress).
type CycleError struct {
	Step string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("graph: dependency cycle detected at step %q", e.Step)
}

// MissingDependencyError reports a dependency naming a step that does
// not exist in the graph.
type MissingDependencyError struct {
	Step       string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("graph: step %q depends on unknown step %q", e.Step, e.Dependency)
}

// visit marks used by the depth-first traversal.
type mark uint8

const (
	unvisited mark = iota
	inProgress
	done
)

// Validate checks that every dependency named in the graph exists as a
// node. It does not check for cycles; Resolve does both.
func Validate(deps map[string][]string) error {
	for step, ds := range deps {
		for _, d := range ds {
			if _, ok := deps[d]; !ok {
				return &MissingDependencyError{Step: step, Dependency: d}
			}
		}
	}
	return nil
}

// Resolve produces an execution order in which every dependency precedes
// its dependents. The traversal is a post-order depth-first visit with
// three-color marking. On a cycle it returns a nil order and a
// *CycleError — never a partial order. Steps with no relative dependency
// are ordered by map iteration, which is not stable across runs.
func Resolve(deps map[string][]string) ([]string, error) {
	if err := Validate(deps); err != nil {
		return nil, err
	}

	marks := make(map[string]mark, len(deps))
	order := make([]string, 0, len(deps))

	var visit func(step string) error
	visit = func(step string) error {
		switch marks[step] {
		case done:
			return nil
		case inProgress:
			return &CycleError{Step: step}
		}

		marks[step] = inProgress
		for _, d := range deps[step] {
			if err := visit(d); err != nil {
				return err
			}
		}
		marks[step] = done
		order = append(order, step)
		return nil
	}

	for step := range deps {
		if err := visit(step); err != nil {
			return nil, err
		}
	}

	return order, nil
}
