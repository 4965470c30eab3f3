package optimizer

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		lr       float64
		wantType OptimizerType
		wantLR   float64
		wantErr  bool
	}{
		{"adam with rate", "adam", 0.005, Adam, 0.005, false},
		{"adam default rate", "Adam", 0, Adam, 0.001, false},
		{"sgd", "sgd", 0.1, SGD, 0.1, false},
		{"rmsprop", " rmsprop ", 0.01, RMSProp, 0.01, false},
		{"unknown", "lion", 0.1, Adam, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse(tt.input, tt.lr)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if cfg.Type != tt.wantType {
				t.Errorf("Expected type %s, got %s", tt.wantType, cfg.Type)
			}
			if cfg.LearningRate != tt.wantLR {
				t.Errorf("Expected learning rate %g, got %g", tt.wantLR, cfg.LearningRate)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultAdamConfig()
	cfg.Beta1 = 1.0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for beta1 = 1")
	}

	cfg = DefaultSGDConfig()
	cfg.LearningRate = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for negative learning rate")
	}
}

func TestParams(t *testing.T) {
	params := DefaultAdamConfig().Params()
	if params["name"] != "adam" {
		t.Errorf("Expected name adam, got %v", params["name"])
	}
	if params["beta_2"] != 0.999 {
		t.Errorf("Expected beta_2 0.999, got %v", params["beta_2"])
	}
	if _, ok := DefaultSGDConfig().Params()["beta_1"]; ok {
		t.Error("SGD params should not carry beta_1")
	}
}

func TestWithMomentum(t *testing.T) {
	sgd := DefaultSGDConfig().WithMomentum(0.9, 0.5)
	if sgd.Params()["momentum"] != 0.9 {
		t.Errorf("Expected sgd momentum 0.9, got %v", sgd.Params()["momentum"])
	}
	if _, ok := sgd.Params()["rho"]; ok {
		t.Error("SGD params should not carry rho")
	}

	rms := DefaultRMSPropConfig().WithMomentum(0.5, 0.8)
	if rms.Params()["rho"] != 0.8 || rms.Params()["momentum"] != 0.5 {
		t.Errorf("Unexpected rmsprop params %v", rms.Params())
	}

	kept := DefaultRMSPropConfig().WithMomentum(0, 0)
	if kept.Rho != 0.9 {
		t.Errorf("Expected default rho 0.9, got %g", kept.Rho)
	}

	adam := DefaultAdamConfig().WithMomentum(0.9, 0.9)
	if _, ok := adam.Params()["momentum"]; ok {
		t.Error("Adam params should not carry momentum")
	}

	bad := DefaultSGDConfig().WithMomentum(1.5, 0)
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for momentum >= 1")
	}
}
