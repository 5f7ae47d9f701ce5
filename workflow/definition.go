package workflow

import (
	"fmt"

	"github.com/songzhibin97/flownet/conditions"
	"github.com/songzhibin97/flownet/internal/value"
	"github.com/songzhibin97/flownet/types"
)

type brancher interface {
	branch() *conditionalBranch
}

// Encode converts wf into its serialized definition. Nodes are listed in id
// order and edges in the order they were added.
func Encode(wf *Workflow) (types.Definition, error) {
	def := types.Definition{Name: wf.Name, Version: wf.Version}

	for _, n := range wf.Nodes() {
		out, err := encodeNode(n)
		if err != nil {
			return types.Definition{}, err
		}
		def.Nodes = append(def.Nodes, out)
	}
	for _, name := range wf.handlerNames() {
		def.VariableHandlers = append(def.VariableHandlers, types.VariableHandler{
			Variable: name,
			Handler:  wf.handlers[name].key,
		})
	}
	return def, nil
}

func encodeNode(n Node) (types.Node, error) {
	out := types.Node{ID: n.ID(), Type: string(n.Kind())}

	switch t := n.(type) {
	case *Action:
		out.Class, out.Arguments = t.class, t.Arguments()
	case *Input:
		for _, name := range t.names {
			c, err := conditions.Encode(t.conditions[name])
			if err != nil {
				return types.Node{}, fmt.Errorf("node #%d: input %q: %w", n.ID(), name, err)
			}
			out.Inputs = append(out.Inputs, types.Input{Name: name, Condition: c})
		}
	case *SetVar:
		out.Variables = t.Variables()
	case *UnsetVar:
		out.Names = t.Names()
	case *Arithmetic:
		out.Variable, out.Operand = t.variable, t.operand
	case *SubWorkflow:
		out.Workflow = t.workflow
		for _, m := range t.in {
			out.In = append(out.In, types.Mapping{From: m.From, To: m.To})
		}
		for _, m := range t.out {
			out.Out = append(out.Out, types.Mapping{From: m.From, To: m.To})
		}
	}

	var b *conditionalBranch
	if br, ok := n.(brancher); ok {
		b = br.branch()
	}
	for _, to := range n.base().out {
		edge := types.Edge{To: to.ID()}
		if b != nil {
			if c, ok := b.conditions[to]; ok {
				enc, err := conditions.Encode(c)
				if err != nil {
					return types.Node{}, fmt.Errorf("node #%d: edge to #%d: %w", n.ID(), to.ID(), err)
				}
				edge.Condition = &enc
				edge.Else = b.elses[to]
			}
		}
		out.Edges = append(out.Edges, edge)
	}
	return out, nil
}

// Decode builds a workflow from def, resolving service objects and variable
// handlers through r, and verifies it.
func Decode(def types.Definition, r *Registry) (*Workflow, error) {
	if r == nil {
		r = NewRegistry()
	}
	wf := NewWorkflow(def.Name)
	wf.Version = def.Version

	nodes := make(map[int]Node, len(def.Nodes))
	for _, dn := range def.Nodes {
		if _, dup := nodes[dn.ID]; dup {
			return nil, structuralError(nil, fmt.Errorf("%w: duplicate node id %d", ErrInvalidWorkflow, dn.ID))
		}
		n, err := decodeNode(wf, dn, r)
		if err != nil {
			return nil, err
		}
		nodes[dn.ID] = n
	}

	for _, dn := range def.Nodes {
		from := nodes[dn.ID]
		for _, edge := range dn.Edges {
			to, ok := nodes[edge.To]
			if !ok {
				return nil, structuralError(nil, fmt.Errorf("%w: node #%d has an edge to unknown node #%d", ErrInvalidWorkflow, dn.ID, edge.To))
			}
			br, isBranch := from.(brancher)
			if edge.Condition == nil || !isBranch {
				from.AddOutNode(to)
				continue
			}
			c, err := conditions.Decode(*edge.Condition)
			if err != nil {
				return nil, structuralError(nil, fmt.Errorf("node #%d: edge to #%d: %w", dn.ID, edge.To, err))
			}
			br.branch().addEdge(to, c, edge.Else)
		}
	}

	for _, vh := range def.VariableHandlers {
		h, err := r.VariableHandler(vh.Handler)
		if err != nil {
			return nil, configurationError(nil, fmt.Errorf("variable %q: %w", vh.Variable, err))
		}
		wf.AddVariableHandler(vh.Variable, vh.Handler, h)
	}

	if err := wf.Verify(); err != nil {
		return nil, err
	}
	return wf, nil
}

func decodeNode(wf *Workflow, dn types.Node, r *Registry) (Node, error) {
	switch NodeKind(dn.Type) {
	case KindStart:
		return wf.start, nil
	case KindFinally:
		return wf.finally, nil
	case KindEnd:
		if dn.ID == 2 {
			return wf.end, nil
		}
		return NewEnd(), nil
	case KindCancel:
		return NewCancel(), nil
	case KindAction:
		factory, ok := r.ServiceObject(dn.Class)
		if !ok {
			return nil, configurationError(nil, fmt.Errorf("node #%d: %w: %q", dn.ID, ErrServiceObjectNotFound, dn.Class))
		}
		args := make([]interface{}, len(dn.Arguments))
		for i, a := range dn.Arguments {
			args[i] = value.Normalize(a)
		}
		return NewAction(dn.Class, factory, args...), nil
	case KindInput:
		inputs := make(map[string]conditions.Condition, len(dn.Inputs))
		for _, in := range dn.Inputs {
			c, err := conditions.Decode(in.Condition)
			if err != nil {
				return nil, structuralError(nil, fmt.Errorf("node #%d: input %q: %w", dn.ID, in.Name, err))
			}
			inputs[in.Name] = c
		}
		return NewInput(inputs), nil
	case KindSetVar:
		vars := make(map[string]interface{}, len(dn.Variables))
		for k, v := range dn.Variables {
			vars[k] = value.Normalize(v)
		}
		return NewSetVar(vars), nil
	case KindUnsetVar:
		return NewUnsetVar(dn.Names...), nil
	case KindAdd, KindSub, KindMul, KindDiv, KindIncrement, KindDecrement:
		return newArithmetic(NodeKind(dn.Type), dn.Variable, value.Normalize(dn.Operand)), nil
	case KindSubWorkflow:
		in := make([]VariableMapping, len(dn.In))
		for i, m := range dn.In {
			in[i] = VariableMapping{From: m.From, To: m.To}
		}
		out := make([]VariableMapping, len(dn.Out))
		for i, m := range dn.Out {
			out[i] = VariableMapping{From: m.From, To: m.To}
		}
		return NewSubWorkflow(dn.Workflow, in, out), nil
	case KindParallelSplit:
		return NewParallelSplit(), nil
	case KindExclusiveChoice:
		return NewExclusiveChoice(), nil
	case KindMultiChoice:
		return NewMultiChoice(), nil
	case KindLoop:
		return NewLoop(), nil
	case KindSimpleMerge:
		return NewSimpleMerge(), nil
	case KindSynchronization:
		return NewSynchronization(), nil
	case KindSynchronizingMerge:
		return NewSynchronizingMerge(), nil
	case KindDiscriminator:
		return NewDiscriminator(), nil
	}
	return nil, structuralError(nil, fmt.Errorf("%w: node #%d has unknown type %q", ErrInvalidWorkflow, dn.ID, dn.Type))
}
