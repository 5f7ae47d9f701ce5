package types

// Definition is the serialized form of a workflow graph.
type Definition struct {
	Name             string            `json:"name" yaml:"name"`
	Version          int               `json:"version" yaml:"version"`
	Nodes            []Node            `json:"nodes" yaml:"nodes"`
	VariableHandlers []VariableHandler `json:"variable_handlers,omitempty" yaml:"variable_handlers,omitempty"`
}

// VariableHandler binds a workflow variable to a registered handler.
type VariableHandler struct {
	Variable string `json:"variable" yaml:"variable"`
	Handler  string `json:"handler" yaml:"handler"`
}

// Node represents a node in the workflow. Only the fields relevant to Type are set.
type Node struct {
	ID   int    `json:"id" yaml:"id"`
	Type string `json:"type" yaml:"type"` // "start", "end", "action", "input", "exclusive_choice", ...

	// action
	Class     string        `json:"class,omitempty" yaml:"class,omitempty"`
	Arguments []interface{} `json:"arguments,omitempty" yaml:"arguments,omitempty"`

	// input
	Inputs []Input `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// set_var / unset_var
	Variables map[string]interface{} `json:"variables,omitempty" yaml:"variables,omitempty"`
	Names     []string               `json:"names,omitempty" yaml:"names,omitempty"`

	// arithmetic
	Variable string      `json:"variable,omitempty" yaml:"variable,omitempty"`
	Operand  interface{} `json:"operand,omitempty" yaml:"operand,omitempty"`

	// sub_workflow
	Workflow string    `json:"workflow,omitempty" yaml:"workflow,omitempty"`
	In       []Mapping `json:"in,omitempty" yaml:"in,omitempty"`
	Out      []Mapping `json:"out,omitempty" yaml:"out,omitempty"`

	Edges []Edge `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// Input is a variable an input node waits for.
type Input struct {
	Name      string    `json:"name" yaml:"name"`
	Condition Condition `json:"condition" yaml:"condition"`
}

// Mapping copies a variable between a parent and a sub-workflow execution.
type Mapping struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Edge is an ordered outgoing edge. Condition is only set on conditional branches.
type Edge struct {
	To        int        `json:"to" yaml:"to"`
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
	Else      bool       `json:"else,omitempty" yaml:"else,omitempty"`
}

// Condition is the serialized form of a condition tree.
type Condition struct {
	Type       string        `json:"type" yaml:"type"` // "is_true", "is_equal", "and", "variable", "expr", ...
	Value      interface{}   `json:"value,omitempty" yaml:"value,omitempty"`
	Values     []interface{} `json:"values,omitempty" yaml:"values,omitempty"`
	Name       string        `json:"name,omitempty" yaml:"name,omitempty"`
	Left       string        `json:"left,omitempty" yaml:"left,omitempty"`
	Right      string        `json:"right,omitempty" yaml:"right,omitempty"`
	Operator   string        `json:"operator,omitempty" yaml:"operator,omitempty"`
	Expression string        `json:"expression,omitempty" yaml:"expression,omitempty"`
	Conditions []Condition   `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// ExecutionState is a checkpoint of a suspended or running execution.
type ExecutionState struct {
	ID              uint64                 `json:"id"`
	ParentID        uint64                 `json:"parent_id,omitempty"`
	Workflow        string                 `json:"workflow"`
	WorkflowVersion int                    `json:"workflow_version"`
	State           string                 `json:"state"` // "idle", "running", "suspended", "ended", "cancelled"
	Variables       map[string]interface{} `json:"variables"`
	Activated       []int                  `json:"activated"`
	Threads         []Thread               `json:"threads"`
	NextThreadID    int                    `json:"next_thread_id"`
	WaitingFor      []WaitingFor           `json:"waiting_for,omitempty"`
	Nodes           []NodeState            `json:"nodes,omitempty"`
	CreatedAt       int64                  `json:"created_at"`
	UpdatedAt       int64                  `json:"updated_at"`
}

// Thread is a logical thread of an execution.
type Thread struct {
	ID       int `json:"id"`
	Parent   int `json:"parent"` // -1 for root threads
	Siblings int `json:"siblings"`
}

// WaitingFor is a variable an execution needs before it can continue.
type WaitingFor struct {
	Variable  string    `json:"variable"`
	Node      int       `json:"node"`
	Condition Condition `json:"condition"`
}

// NodeState is the per-execution runtime state of a node.
type NodeState struct {
	Node     int    `json:"node"`
	Thread   int    `json:"thread"`
	Arrived  []int  `json:"arrived,omitempty"`
	Siblings int    `json:"siblings,omitempty"`
	Parent   int    `json:"parent"`
	Child    uint64 `json:"child,omitempty"`
}
