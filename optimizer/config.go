package optimizer

import (
	"fmt"
	"strings"
)

// OptimizerType names an optimizer the training framework provides
type OptimizerType int

const (
	Adam OptimizerType = iota
	SGD
	RMSProp
	AdaGrad
	Nadam
)

func (ot OptimizerType) String() string {
	switch ot {
	case Adam:
		return "adam"
	case SGD:
		return "sgd"
	case RMSProp:
		return "rmsprop"
	case AdaGrad:
		return "adagrad"
	case Nadam:
		return "nadam"
	default:
		return fmt.Sprintf("unknown(%d)", int(ot))
	}
}

// Config is the optimizer description sent to the framework when a model
// is built. Only the fields relevant to Type are sent.
type Config struct {
	Type         OptimizerType
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	Momentum     float64
	Rho          float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() Config {
	return Config{
		Type:         Adam,
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
	}
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() Config {
	return Config{
		Type:         SGD,
		LearningRate: 0.01,
	}
}

// DefaultRMSPropConfig returns default RMSProp optimizer configuration
func DefaultRMSPropConfig() Config {
	return Config{
		Type:         RMSProp,
		LearningRate: 0.001,
		Rho:          0.9,
		Epsilon:      1e-7,
	}
}

// DefaultAdaGradConfig returns default AdaGrad optimizer configuration
func DefaultAdaGradConfig() Config {
	return Config{
		Type:         AdaGrad,
		LearningRate: 0.001,
		Epsilon:      1e-7,
	}
}

// DefaultNadamConfig returns default Nadam optimizer configuration
func DefaultNadamConfig() Config {
	return Config{
		Type:         Nadam,
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
	}
}

// Parse resolves an optimizer name and applies the learning rate.
func Parse(name string, learningRate float64) (Config, error) {
	var cfg Config
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "adam":
		cfg = DefaultAdamConfig()
	case "sgd":
		cfg = DefaultSGDConfig()
	case "rmsprop":
		cfg = DefaultRMSPropConfig()
	case "adagrad":
		cfg = DefaultAdaGradConfig()
	case "nadam":
		cfg = DefaultNadamConfig()
	default:
		return Config{}, fmt.Errorf("unsupported optimizer %q", name)
	}
	if learningRate > 0 {
		cfg.LearningRate = learningRate
	}
	return cfg, cfg.Validate()
}

// WithMomentum overrides momentum and rho where the optimizer uses them.
// Zero keeps the default.
func (c Config) WithMomentum(momentum, rho float64) Config {
	switch c.Type {
	case SGD:
		if momentum > 0 {
			c.Momentum = momentum
		}
	case RMSProp:
		if momentum > 0 {
			c.Momentum = momentum
		}
		if rho > 0 {
			c.Rho = rho
		}
	}
	return c
}

// Validate checks the hyperparameters are in range.
func (c Config) Validate() error {
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", c.LearningRate)
	}
	if c.Beta1 < 0 || c.Beta1 >= 1 || c.Beta2 < 0 || c.Beta2 >= 1 {
		return fmt.Errorf("beta values must be in [0, 1), got %g and %g", c.Beta1, c.Beta2)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("momentum must be in [0, 1), got %g", c.Momentum)
	}
	if c.Rho < 0 || c.Rho >= 1 {
		return fmt.Errorf("rho must be in [0, 1), got %g", c.Rho)
	}
	return nil
}

// Params returns the framework-facing representation.
func (c Config) Params() map[string]interface{} {
	params := map[string]interface{}{
		"name":          c.Type.String(),
		"learning_rate": c.LearningRate,
	}
	switch c.Type {
	case Adam, Nadam:
		params["beta_1"] = c.Beta1
		params["beta_2"] = c.Beta2
		params["epsilon"] = c.Epsilon
	case SGD:
		params["momentum"] = c.Momentum
	case RMSProp:
		params["rho"] = c.Rho
		params["momentum"] = c.Momentum
		params["epsilon"] = c.Epsilon
	case AdaGrad:
		params["epsilon"] = c.Epsilon
	}
	return params
}
