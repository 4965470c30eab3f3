package process

import "encoding/json"

// Methods understood by the framework process.
const (
	MethodBuild       = "build"
	MethodStage       = "stage"
	MethodTrainEpoch  = "train_epoch"
	MethodEvaluate    = "evaluate"
	MethodSaveWeights = "save_weights"
	MethodShutdown    = "shutdown"
)

// Request is one line written to the process stdin.
type Request struct {
	ID     int64       `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// Response is one line read from the process stdout.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// BuildParams carries the architecture, optimizer and loss.
type BuildParams struct {
	Spec      interface{}            `json:"spec"`
	Optimizer OptimizerParams        `json:"optimizer"`
	Loss      LossParams             `json:"loss"`
	Metrics   []string               `json:"metrics"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

type OptimizerParams struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params"`
}

type LossParams struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params"`
}

// ArrayRef points at a staged .npy file holding a flat array and the
// shape to restore.
type ArrayRef struct {
	Path  string `json:"path"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

type StageParams struct {
	Dataset string   `json:"dataset"`
	X       ArrayRef `json:"x"`
	Y       ArrayRef `json:"y"`
}

type EpochParams struct {
	Dataset   string `json:"dataset"`
	BatchSize int    `json:"batch_size"`
	Shuffle   bool   `json:"shuffle,omitempty"`
}

type SaveParams struct {
	Path string `json:"path"`
}
