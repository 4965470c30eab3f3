package training

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/satellitecrops/cropseg/internal/jsonfloat"
)

// ErrMetricNotFound is returned when a history has no values for a metric.
var ErrMetricNotFound = errors.New("metric not found in history")

// History records per-epoch metric values, keyed by metric name.
type History struct {
	Epoch   []int                `json:"epoch"`
	History map[string][]float64 `json:"history"`
}

// NewHistory creates an empty history
func NewHistory() *History {
	return &History{
		Epoch:   make([]int, 0),
		History: make(map[string][]float64),
	}
}

// Append records the logs of one epoch.
func (h *History) Append(epoch int, logs map[string]float64) {
	h.Epoch = append(h.Epoch, epoch)
	for key, value := range logs {
		h.History[key] = append(h.History[key], value)
	}
}

// Len returns the number of recorded epochs
func (h *History) Len() int {
	return len(h.Epoch)
}

// Keys returns the recorded metric names in sorted order.
func (h *History) Keys() []string {
	keys := make([]string, 0, len(h.History))
	for key := range h.History {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Max returns the largest value recorded for key over all epochs.
// NaN epochs are ignored; if every epoch is NaN the result is NaN.
func (h *History) Max(key string) (float64, error) {
	values := h.History[key]
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrMetricNotFound, key)
	}
	best := math.NaN()
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(best) || v > best {
			best = v
		}
	}
	return best, nil
}

// Last returns the most recent value recorded for key.
func (h *History) Last(key string) (float64, error) {
	values := h.History[key]
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrMetricNotFound, key)
	}
	return values[len(values)-1], nil
}

type historyJSON struct {
	Epoch   []int                        `json:"epoch"`
	History map[string][]jsonfloat.Float `json:"history"`
}

// MarshalJSON writes NaN and infinite values as null.
func (h History) MarshalJSON() ([]byte, error) {
	out := historyJSON{
		Epoch:   h.Epoch,
		History: make(map[string][]jsonfloat.Float, len(h.History)),
	}
	for key, values := range h.History {
		out.History[key] = jsonfloat.Slice(values)
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads null values back as NaN.
func (h *History) UnmarshalJSON(data []byte) error {
	var in historyJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	h.Epoch = in.Epoch
	if h.Epoch == nil {
		h.Epoch = make([]int, 0)
	}
	h.History = make(map[string][]float64, len(in.History))
	for key, values := range in.History {
		h.History[key] = jsonfloat.Float64s(values)
	}
	return nil
}
