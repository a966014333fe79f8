// Package provision creates the pipeline's resources in dependency order and fires
// the lifecycle trigger once they are ready
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Graph errors
var (
	ErrDuplicateStep     = errors.New("duplicate step")
	ErrMissingDependency = errors.New("missing dependency")
	ErrCycle             = errors.New("dependency cycle detected")
)

// StepFunc applies or tears down one step against the shared run state
type StepFunc func(ctx context.Context, run *Run) error

// Step is one node of the provisioning graph
type Step struct {
	Name      string
	DependsOn []string
	Apply     StepFunc
	// Destroy is nil for steps that own no resource
	Destroy StepFunc
}

// Graph is an explicit dependency graph of steps
type Graph struct {
	steps map[string]Step
	names []string // registration order
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{steps: make(map[string]Step)}
}

// Add registers a step
func (g *Graph) Add(step Step) error {
	if step.Name == "" {
		return errors.New("step name is required")
	}
	if _, exists := g.steps[step.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateStep, step.Name)
	}
	g.steps[step.Name] = step
	g.names = append(g.names, step.Name)
	return nil
}

// MustAdd registers steps and panics on a duplicate
func (g *Graph) MustAdd(steps ...Step) *Graph {
	for _, step := range steps {
		if err := g.Add(step); err != nil {
			panic(err)
		}
	}
	return g
}

// Step returns a registered step
func (g *Graph) Step(name string) (Step, bool) {
	step, ok := g.steps[name]
	return step, ok
}

// Len returns the number of steps
func (g *Graph) Len() int {
	return len(g.names)
}

// Dependents returns the steps that depend directly on name, in registration order
func (g *Graph) Dependents(name string) []string {
	var dependents []string
	for _, n := range g.names {
		for _, dep := range g.steps[n].DependsOn {
			if dep == name {
				dependents = append(dependents, n)
				break
			}
		}
	}
	return dependents
}

// Validate checks that every dependency is registered and that the graph is acyclic
func (g *Graph) Validate() error {
	for _, name := range g.names {
		for _, dep := range g.steps[name].DependsOn {
			if _, ok := g.steps[dep]; !ok {
				return fmt.Errorf("%w: step %s depends on unknown step %s", ErrMissingDependency, name, dep)
			}
		}
	}

	gray := make(map[string]bool)  // visiting
	black := make(map[string]bool) // visited

	var dfs func(string, []string) error
	dfs = func(node string, path []string) error {
		if gray[node] {
			cycleStart := 0
			for i, n := range path {
				if n == node {
					cycleStart = i
					break
				}
			}
			cycle := append(append([]string(nil), path[cycleStart:]...), node)
			return fmt.Errorf("%w: %s", ErrCycle, strings.Join(cycle, " -> "))
		}
		if black[node] {
			return nil
		}

		gray[node] = true
		path = append(path, node)
		for _, dep := range g.steps[node].DependsOn {
			if err := dfs(dep, path); err != nil {
				return err
			}
		}
		delete(gray, node)
		black[node] = true
		return nil
	}

	for _, name := range g.names {
		if err := dfs(name, nil); err != nil {
			return err
		}
	}
	return nil
}

// Order returns a topological order: every step follows all of its dependencies.
// Ties are broken by registration order so the result is deterministic.
func (g *Graph) Order() ([]string, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	order := make([]string, 0, len(g.names))
	visited := make(map[string]bool)

	var visit func(string)
	visit = func(node string) {
		if visited[node] {
			return
		}
		visited[node] = true
		for _, dep := range g.steps[node].DependsOn {
			visit(dep)
		}
		order = append(order, node)
	}

	for _, name := range g.names {
		visit(name)
	}
	return order, nil
}

// ReverseOrder returns the teardown order: every step precedes its dependencies
func (g *Graph) ReverseOrder() ([]string, error) {
	order, err := g.Order()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}
