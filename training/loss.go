package training

import (
	"fmt"
	"strings"

	"github.com/satellitecrops/cropseg/engine"
)

// FocalLoss is the categorical focal loss used for class-imbalanced
// segmentation: cross entropy scaled by alpha * (1 - p)^gamma.
type FocalLoss struct {
	Alpha float64
	Gamma float64
}

// NewFocalLoss validates and returns a focal loss description.
func NewFocalLoss(alpha, gamma float64) (*FocalLoss, error) {
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("focal loss alpha must be in [0, 1], got %g", alpha)
	}
	if gamma < 0 {
		return nil, fmt.Errorf("focal loss gamma cannot be negative, got %g", gamma)
	}
	return &FocalLoss{Alpha: alpha, Gamma: gamma}, nil
}

func (fl *FocalLoss) Name() string {
	return "categorical_focal_loss"
}

func (fl *FocalLoss) Params() map[string]interface{} {
	return map[string]interface{}{
		"alpha": fl.Alpha,
		"gamma": fl.Gamma,
	}
}

// CrossEntropyLoss is plain categorical cross entropy.
type CrossEntropyLoss struct {
	FromLogits bool
}

func (ce *CrossEntropyLoss) Name() string {
	return "categorical_crossentropy"
}

func (ce *CrossEntropyLoss) Params() map[string]interface{} {
	return map[string]interface{}{
		"from_logits": ce.FromLogits,
	}
}

// NewLoss resolves a loss by name. Alpha and gamma only apply to the
// focal loss.
func NewLoss(name string, alpha, gamma float64) (engine.LossSpec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "focal", "categorical_focal_loss":
		return NewFocalLoss(alpha, gamma)
	case "cross_entropy", "categorical_crossentropy":
		return &CrossEntropyLoss{}, nil
	default:
		return nil, fmt.Errorf("unsupported loss %q", name)
	}
}
