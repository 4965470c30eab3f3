package status

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrinterPlainWriter(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	p.Heading("Use case: %s", "train")
	p.Info("n_classes : %d", 4)
	p.Done("train() done")

	out := buf.String()
	assert.Contains(t, out, "Use case: train")
	assert.Contains(t, out, "n_classes : 4\n")
	assert.Contains(t, out, "train() done")
	// a bytes.Buffer is not a terminal, so no escape sequences
	assert.NotContains(t, out, "\x1b[")
}
