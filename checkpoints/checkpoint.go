package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/satellitecrops/cropseg/internal/jsonfloat"
	"github.com/satellitecrops/cropseg/layers"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatProto
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// Extension returns the file suffix used for the format.
func (cf CheckpointFormat) Extension() string {
	switch cf {
	case FormatProto:
		return ".ckpt.pb"
	default:
		return ".ckpt.json"
	}
}

// ParseFormat maps a configuration value to a format.
func ParseFormat(name string) (CheckpointFormat, error) {
	switch name {
	case "", "json":
		return FormatJSON, nil
	case "proto", "protobuf":
		return FormatProto, nil
	default:
		return FormatJSON, fmt.Errorf("unsupported checkpoint format: %s", name)
	}
}

// Checkpoint describes a saved model: its architecture, where the
// framework-native weights live, and how training went.
type Checkpoint struct {
	ModelSpec   *layers.ModelSpec `json:"model_spec"`
	WeightsFile string            `json:"weights_file"`

	TrainingState TrainingState `json:"training_state"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// TrainingState captures the training progress at save time
type TrainingState struct {
	Epochs       int                `json:"epochs"`
	LearningRate float64            `json:"learning_rate"`
	BatchSize    int                `json:"batch_size"`
	NumClasses   int                `json:"num_classes"`
	ClassCodes   []int32            `json:"class_codes,omitempty"`
	BestMetrics  map[string]float64 `json:"best_metrics,omitempty"`
}

type trainingState TrainingState

type trainingStateJSON struct {
	trainingState
	BestMetrics map[string]jsonfloat.Float `json:"best_metrics,omitempty"`
}

// MarshalJSON writes non-finite best metrics as null.
func (ts TrainingState) MarshalJSON() ([]byte, error) {
	return json.Marshal(trainingStateJSON{
		trainingState: trainingState(ts),
		BestMetrics:   jsonfloat.Map(ts.BestMetrics),
	})
}

func (ts *TrainingState) UnmarshalJSON(data []byte) error {
	var in trainingStateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*ts = TrainingState(in.trainingState)
	ts.BestMetrics = jsonfloat.Float64Map(in.BestMetrics)
	return nil
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// Format returns the format the saver writes
func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// SaveCheckpoint saves a complete model checkpoint
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	data, err := cs.Marshal(checkpoint)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	return nil
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	return cs.Unmarshal(data)
}

// Marshal encodes a checkpoint, filling in default metadata.
func (cs *CheckpointSaver) Marshal(checkpoint *Checkpoint) ([]byte, error) {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "cropseg"
		checkpoint.Metadata.Version = "1.0.0"
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	switch cs.format {
	case FormatJSON:
		data, err := json.MarshalIndent(checkpoint, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
		}
		return data, nil
	case FormatProto:
		return marshalProto(checkpoint)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// Unmarshal decodes a checkpoint written by Marshal.
func (cs *CheckpointSaver) Unmarshal(data []byte) (*Checkpoint, error) {
	var checkpoint Checkpoint
	switch cs.format {
	case FormatJSON:
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
	case FormatProto:
		if err := unmarshalProto(data, &checkpoint); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
	return &checkpoint, nil
}

// marshalProto stores the checkpoint as a google.protobuf.Struct, going
// through the JSON form so both formats share one schema.
func marshalProto(checkpoint *Checkpoint) ([]byte, error) {
	raw, err := json.Marshal(checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build checkpoint message: %w", err)
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint message: %w", err)
	}
	return data, nil
}

func unmarshalProto(data []byte, checkpoint *Checkpoint) error {
	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal checkpoint message: %w", err)
	}
	raw, err := json.Marshal(msg.AsMap())
	if err != nil {
		return fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if err := json.Unmarshal(raw, checkpoint); err != nil {
		return fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return nil
}
