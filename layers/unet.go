package layers

import (
	"fmt"
)

// UNetConfig sizes a U-Net for per-pixel classification.
type UNetConfig struct {
	NClasses    int
	ImgHeight   int
	ImgWidth    int
	ImgChannels int

	// BaseFilters is the filter count of the first encoder block; it
	// doubles at each level. Defaults to 16.
	BaseFilters int
	// Depth is the number of down-sampling steps. Defaults to 4.
	Depth int
	// DropoutRate is applied after every block. Zero disables dropout.
	DropoutRate float64
}

func (c UNetConfig) withDefaults() UNetConfig {
	if c.BaseFilters == 0 {
		c.BaseFilters = 16
	}
	if c.Depth == 0 {
		c.Depth = 4
	}
	return c
}

// BuildUNet compiles the encoder/decoder graph with skip connections.
// The output has one softmax channel per class at full resolution.
func BuildUNet(cfg UNetConfig) (*ModelSpec, error) {
	cfg = cfg.withDefaults()

	if cfg.NClasses < 2 {
		return nil, fmt.Errorf("unet needs at least 2 classes, got %d", cfg.NClasses)
	}
	if cfg.ImgHeight <= 0 || cfg.ImgWidth <= 0 || cfg.ImgChannels <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%dx%d", cfg.ImgHeight, cfg.ImgWidth, cfg.ImgChannels)
	}
	if cfg.Depth < 1 || cfg.BaseFilters < 1 {
		return nil, fmt.Errorf("invalid depth %d or base filters %d", cfg.Depth, cfg.BaseFilters)
	}
	factor := 1 << cfg.Depth
	if cfg.ImgHeight%factor != 0 || cfg.ImgWidth%factor != 0 {
		return nil, fmt.Errorf("image size %dx%d must be divisible by %d for depth %d",
			cfg.ImgHeight, cfg.ImgWidth, factor, cfg.Depth)
	}

	mb := NewModelBuilder("unet", []int{cfg.ImgHeight, cfg.ImgWidth, cfg.ImgChannels})

	skips := make([]string, cfg.Depth)
	filters := cfg.BaseFilters
	for level := 0; level < cfg.Depth; level++ {
		convBlock(mb, fmt.Sprintf("enc%d", level+1), filters, cfg.DropoutRate)
		skips[level] = mb.Last()
		mb.AddMaxPool2D(2, fmt.Sprintf("enc%d_pool", level+1))
		filters *= 2
	}

	convBlock(mb, "bottleneck", filters, cfg.DropoutRate)

	for level := cfg.Depth - 1; level >= 0; level-- {
		filters /= 2
		prefix := fmt.Sprintf("dec%d", level+1)
		mb.AddConv2DTranspose(filters, 2, 2, prefix+"_up")
		mb.AddConcatenate(prefix+"_concat", mb.Last(), skips[level])
		convBlock(mb, prefix, filters, cfg.DropoutRate)
	}

	mb.AddConv2D(cfg.NClasses, 1, "logits")
	mb.AddSoftmax("probabilities")

	return mb.Compile()
}

// convBlock appends conv-relu-conv-relu, with dropout in between when set.
func convBlock(mb *ModelBuilder, prefix string, filters int, dropout float64) {
	mb.AddConv2D(filters, 3, prefix+"_conv1").AddReLU(prefix + "_relu1")
	if dropout > 0 {
		mb.AddDropout(dropout, prefix+"_dropout")
	}
	mb.AddConv2D(filters, 3, prefix+"_conv2").AddReLU(prefix + "_relu2")
}
