package provision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *Run) error { return nil }

func step(name string, deps ...string) Step {
	return Step{Name: name, DependsOn: deps, Apply: noop}
}

func indexOf(order []string, name string) int {
	for i, n := range order {
		if n == name {
			return i
		}
	}
	return -1
}

func TestGraphOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		steps []Step
		want  []string
	}{
		{
			name:  "independent steps keep registration order",
			steps: []Step{step("a"), step("b"), step("c")},
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "dependency registered later runs first",
			steps: []Step{step("queue", "compute"), step("compute")},
			want:  []string{"compute", "queue"},
		},
		{
			name: "diamond",
			steps: []Step{
				step("submit", "left", "right"),
				step("left", "root"),
				step("right", "root"),
				step("root"),
			},
			want: []string{"root", "left", "right", "submit"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewGraph().MustAdd(tt.steps...)
			order, err := g.Order()
			require.NoError(t, err)
			assert.Equal(t, tt.want, order)

			reverse, err := g.ReverseOrder()
			require.NoError(t, err)
			for i := range order {
				assert.Equal(t, order[i], reverse[len(reverse)-1-i])
			}
		})
	}
}

func TestGraphRejectsCycles(t *testing.T) {
	t.Parallel()

	g := NewGraph().MustAdd(step("a", "c"), step("b", "a"), step("c", "b"))
	_, err := g.Order()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycle)
	assert.Contains(t, err.Error(), "a -> c -> b -> a")
}

func TestGraphRejectsSelfDependency(t *testing.T) {
	t.Parallel()

	g := NewGraph().MustAdd(step("a", "a"))
	assert.ErrorIs(t, g.Validate(), ErrCycle)
}

func TestGraphRejectsMissingDependency(t *testing.T) {
	t.Parallel()

	g := NewGraph().MustAdd(step("queue", "compute"))
	err := g.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingDependency)
	assert.Contains(t, err.Error(), "queue depends on unknown step compute")
}

func TestGraphAdd(t *testing.T) {
	t.Parallel()

	g := NewGraph()
	require.NoError(t, g.Add(step("a")))
	assert.ErrorIs(t, g.Add(step("a")), ErrDuplicateStep)
	assert.Error(t, g.Add(step("")))
	assert.Equal(t, 1, g.Len())

	assert.Panics(t, func() { g.MustAdd(step("a")) })
}

func TestGraphDependents(t *testing.T) {
	t.Parallel()

	g := NewGraph().MustAdd(step("root"), step("x", "root"), step("y", "x", "root"))
	assert.Equal(t, []string{"x", "y"}, g.Dependents("root"))
	assert.Equal(t, []string{"y"}, g.Dependents("x"))
	assert.Empty(t, g.Dependents("y"))
}

// Every dependency of the pipeline's own graph precedes its dependent.
func TestPipelineGraphOrder(t *testing.T) {
	t.Parallel()

	d := newFixture(t).deployer
	g := d.Graph(DestroyOptions{})
	order, err := g.Order()
	require.NoError(t, err)
	require.Len(t, order, g.Len())

	for _, name := range order {
		s, _ := g.Step(name)
		for _, dep := range s.DependsOn {
			assert.Less(t, indexOf(order, dep), indexOf(order, name), "%s must follow %s", name, dep)
		}
	}
	assert.Equal(t, StepOutputs, order[len(order)-1])
	assert.Less(t, indexOf(order, StepJobDefinition), indexOf(order, StepSubmission))
	assert.Less(t, indexOf(order, StepSubmissionRole), indexOf(order, StepSubmission))
	assert.Less(t, indexOf(order, StepStagingAssets), indexOf(order, StepSubmission))
}
