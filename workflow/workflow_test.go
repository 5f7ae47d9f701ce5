package workflow

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/songzhibin97/flownet/conditions"
	"github.com/songzhibin97/flownet/types"
)

func TestConnect(t *testing.T) {
	a, b := NewSetVar(nil), NewUnsetVar()
	Connect(a, b)

	assert.Equal(t, []Node{b}, a.OutNodes())
	assert.Equal(t, []Node{a}, b.InNodes())
	assert.False(t, a.AddOutNode(b))
	assert.False(t, b.AddInNode(a))

	assert.True(t, b.RemoveInNode(a))
	assert.Empty(t, a.OutNodes())
	assert.Empty(t, b.InNodes())
	assert.False(t, a.RemoveOutNode(b))
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Workflow
		valid bool
	}{
		{"start end", func() *Workflow { return sequence("ok") }, true},
		{"start without out", func() *Workflow { return NewWorkflow("empty") }, false},
		{"split with one out", func() *Workflow {
			return sequence("split", NewParallelSplit())
		}, false},
		{"choice with one condition", func() *Workflow {
			wf := NewWorkflow("choice")
			choice := NewExclusiveChoice()
			Connect(wf.Start(), choice)
			choice.AddConditionalOutNode(conditions.IsTrue(), wf.End(), nil)
			choice.AddOutNode(NewEnd())
			return wf
		}, false},
		{"merge with one in", func() *Workflow {
			return sequence("merge", NewSimpleMerge())
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build().Verify()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidWorkflow)
			kind, ok := KindOf(err)
			assert.True(t, ok)
			assert.Equal(t, KindStructural, kind)
		})
	}
}

func TestStartVerifies(t *testing.T) {
	e := NewNonInteractive()
	require.NoError(t, e.SetWorkflow(NewWorkflow("empty")))
	assert.ErrorIs(t, e.Start(context.Background()), ErrInvalidWorkflow)
}

func TestNodeIDs(t *testing.T) {
	wf := NewWorkflow("ids")
	a := NewSetVar(map[string]interface{}{"a": 1})
	b := NewSetVar(map[string]interface{}{"b": 1})
	Connect(wf.Start(), a, wf.End())
	Connect(wf.Finally(), b, NewEnd())

	nodes := wf.Nodes()
	ids := make([]int, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, ids)
	assert.Equal(t, 1, wf.Start().ID())
	assert.Equal(t, 2, wf.End().ID())
	assert.Equal(t, 3, wf.Finally().ID())
	assert.Equal(t, 4, a.ID())
	assert.Equal(t, 5, b.ID())
	assert.Equal(t, 3, wf.Count())

	// ids are stable across calls
	assert.Equal(t, nodes, wf.Nodes())
}

func TestInteractive(t *testing.T) {
	assert.False(t, sequence("plain").IsInteractive())
	assert.True(t, sequence("input", NewInput(nil)).IsInteractive())
	assert.True(t, sequence("sub", NewSubWorkflow("x", nil, nil)).HasSubWorkflows())
}

func TestNodeStrings(t *testing.T) {
	tests := []struct {
		node Node
		want string
	}{
		{NewStart(), "Start"},
		{NewAction("mailer", nil), "Action(mailer)"},
		{NewInput(map[string]conditions.Condition{"b": conditions.IsBool(), "a": nil}), "Input(a is anything, b is bool)"},
		{NewSetVar(map[string]interface{}{"y": true, "x": 1}), "SetVar(x = 1, y = true)"},
		{NewUnsetVar("x", "y"), "UnsetVar(x, y)"},
		{NewAdd("x", 2), "x += 2"},
		{NewDiv("x", "y"), "x /= y"},
		{NewIncrement("i"), "i++"},
		{NewSubWorkflow("child", []VariableMapping{{From: "a", To: "b"}}, nil), "SubWorkflow(child, in: a:b)"},
		{NewDiscriminator(), "Discriminator"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.node.String())
	}
}

func testRegistry() *Registry {
	r := NewRegistry()
	r.RegisterServiceObject("greeter", func(args []interface{}) (ServiceObject, error) {
		return ServiceObjectFunc(func(ctx context.Context, e *Execution) (bool, error) {
			e.SetVariable(ctx, "greeting", args[0])
			return true, nil
		}), nil
	})
	r.RegisterVariableHandler("counter", func() (VariableHandler, error) {
		return &counterHandler{stored: map[string]interface{}{}}, nil
	})
	return r
}

func codecWorkflow(r *Registry) *Workflow {
	factory, _ := r.ServiceObject("greeter")
	handler, _ := r.VariableHandler("counter")

	wf := NewWorkflow("Codec")
	wf.Version = 3
	wf.AddVariableHandler("count", "counter", handler)

	choice := NewExclusiveChoice()
	merge := NewSimpleMerge()
	split := NewParallelSplit()
	sync := NewSynchronization()

	Connect(wf.Start(), NewInput(map[string]conditions.Condition{
		"amount": conditions.And(conditions.IsInteger(), conditions.IsBetween(1, 100)),
		"kind":   conditions.InArray("a", "b"),
	}), choice)
	choice.AddConditionalOutNode(conditions.Variable("amount", conditions.IsGreaterThan(50)),
		NewAction("greeter", factory, "big", 2.5), NewMul("amount", 2))
	Connect(choice.OutNodes()[0], merge)
	Connect(choice.OutNodes()[1], merge)
	Connect(merge, split)
	Connect(split, NewSubWorkflow("Child", []VariableMapping{{From: "amount", To: "x"}}, []VariableMapping{{From: "x", To: "y"}}), sync)
	Connect(split, NewUnsetVar("kind"), sync)
	Connect(sync, NewSetVar(map[string]interface{}{"done": true, "label": "ok"}), wf.End())
	Connect(wf.Finally(), NewIncrement("count"), NewEnd())
	return wf
}

func TestDefinitionRoundTrip(t *testing.T) {
	r := testRegistry()
	def, err := Encode(codecWorkflow(r))
	require.NoError(t, err)

	assert.Equal(t, "Codec", def.Name)
	assert.Equal(t, 3, def.Version)
	assert.Equal(t, []types.VariableHandler{{Variable: "count", Handler: "counter"}}, def.VariableHandlers)
	assert.Equal(t, "start", def.Nodes[0].Type)
	assert.Equal(t, "end", def.Nodes[1].Type)
	assert.Equal(t, "finally", def.Nodes[2].Type)

	data, err := yaml.Marshal(def)
	require.NoError(t, err)
	var decoded types.Definition
	require.NoError(t, yaml.Unmarshal(data, &decoded))

	wf, err := Decode(decoded, r)
	require.NoError(t, err)
	again, err := Encode(wf)
	require.NoError(t, err)

	if diff := cmp.Diff(def, again); diff != "" {
		t.Errorf("definition changed after round trip (-want +got):\n%s", diff)
	}
}

func TestDecodedWorkflowRuns(t *testing.T) {
	ctx := context.Background()
	r := testRegistry()
	original := codecWorkflow(r)
	def, err := Encode(original)
	require.NoError(t, err)
	decoded, err := Decode(def, r)
	require.NoError(t, err)
	assert.Equal(t, original.Count(), decoded.Count())

	run := func(t *testing.T, wf *Workflow, input map[string]interface{}) map[string]interface{} {
		child := sequence("Child", NewIncrement("x"))
		e := NewExecution(WithHost(newTestHost()), WithDefinitionStorage(testDefinitions{"Child": child}))
		require.NoError(t, e.SetWorkflow(wf))
		require.NoError(t, e.Start(ctx))
		require.True(t, e.IsSuspended())
		require.NoError(t, e.Resume(ctx, input))
		require.True(t, e.HasEnded())
		return e.Variables()
	}

	tests := []struct {
		name  string
		input map[string]interface{}
		check func(t *testing.T, vars map[string]interface{})
	}{
		{
			name:  "action branch",
			input: map[string]interface{}{"amount": 60, "kind": "a"},
			check: func(t *testing.T, vars map[string]interface{}) {
				assert.Equal(t, "big", vars["greeting"])
				assert.Equal(t, 61, vars["y"])
			},
		},
		{
			name:  "arithmetic branch",
			input: map[string]interface{}{"amount": 10, "kind": "b"},
			check: func(t *testing.T, vars map[string]interface{}) {
				assert.NotContains(t, vars, "greeting")
				assert.Equal(t, 20, vars["amount"])
				assert.Equal(t, 21, vars["y"])
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := run(t, original, tt.input)
			got := run(t, decoded, tt.input)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("decoded workflow behaves differently (-original +decoded):\n%s", diff)
			}
			tt.check(t, got)
			assert.Equal(t, true, got["done"])
			assert.NotContains(t, got, "kind")
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	r := testRegistry()
	base := func() types.Definition {
		def, err := Encode(sequence("Decode", NewAction("greeter", nil)))
		require.NoError(t, err)
		return def
	}

	tests := []struct {
		name   string
		mutate func(*types.Definition)
		err    error
	}{
		{"unknown service object", func(d *types.Definition) { d.Nodes[2].Class = "nope" }, ErrServiceObjectNotFound},
		{"unknown node type", func(d *types.Definition) { d.Nodes[2].Type = "teleport" }, ErrInvalidWorkflow},
		{"dangling edge", func(d *types.Definition) { d.Nodes[0].Edges[0].To = 99 }, ErrInvalidWorkflow},
		{"duplicate id", func(d *types.Definition) { d.Nodes[2].ID = 1 }, ErrInvalidWorkflow},
		{"unknown handler", func(d *types.Definition) {
			d.VariableHandlers = []types.VariableHandler{{Variable: "v", Handler: "nope"}}
		}, ErrVariableHandlerNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := base()
			tt.mutate(&def)
			_, err := Decode(def, r)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestRegistry(t *testing.T) {
	r := testRegistry()
	assert.Equal(t, []string{"greeter"}, r.ServiceObjects())

	_, ok := r.ServiceObject("missing")
	assert.False(t, ok)
	_, err := r.VariableHandler("missing")
	assert.ErrorIs(t, err, ErrVariableHandlerNotFound)
}
