package compiler

// StateMachineDefinition is the subset of Amazon States Language this
// compiler emits: a top-level document of named States plus a StartAt
// pointer, matching asl_generator.py's generate_state_machine output.
type StateMachineDefinition struct {
	Comment        string           `json:"Comment,omitempty"`
	StartAt        string           `json:"StartAt"`
	States         map[string]State `json:"States"`
	TimeoutSeconds int              `json:"TimeoutSeconds,omitempty"`
}

// State is a union of the ASL state shapes this compiler produces: Task,
// Pass, Parallel, Succeed, and Fail. Fields that don't apply to a given Type are
// omitted from JSON via omitempty.
type State struct {
	Type           string         `json:"Type"`
	Comment        string         `json:"Comment,omitempty"`
	Resource       string         `json:"Resource,omitempty"`
	Parameters     map[string]any `json:"Parameters,omitempty"`
	Next           string         `json:"Next,omitempty"`
	End            bool           `json:"End,omitempty"`
	TimeoutSeconds int            `json:"TimeoutSeconds,omitempty"`
	Retry          []RetryRule    `json:"Retry,omitempty"`
	Catch          []CatchRule    `json:"Catch,omitempty"`
	Result         map[string]any `json:"Result,omitempty"`
	ResultPath     string         `json:"ResultPath,omitempty"`
	Cause          string         `json:"Cause,omitempty"`
	Error          string         `json:"Error,omitempty"`
	Branches       []Branch       `json:"Branches,omitempty"`
}

// Branch is one parallel execution arm of a Job with more than one
// Operation.
type Branch struct {
	StartAt string           `json:"StartAt"`
	States  map[string]State `json:"States"`
}

type RetryRule struct {
	ErrorEquals     []string `json:"ErrorEquals"`
	IntervalSeconds int      `json:"IntervalSeconds"`
	MaxAttempts     int      `json:"MaxAttempts"`
	BackoffRate     float64  `json:"BackoffRate"`
}

type CatchRule struct {
	ErrorEquals []string `json:"ErrorEquals"`
	Next        string   `json:"Next"`
	ResultPath  string   `json:"ResultPath,omitempty"`
}

const (
	stateTypeTask    = "Task"
	stateTypePass    = "Pass"
	stateTypeSucceed = "Succeed"
	stateTypeFail    = "Fail"
)

const (
	lambdaResourceSuffix = "" // Lambda ARNs go in the lambda:invoke FunctionName parameter, not in Resource
	ecsResource          = "arn:aws:states:::ecs:runTask.sync"
)
