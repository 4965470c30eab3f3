package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/satellitecrops/cropseg/tensor"
)

// ErrNoPatches is returned when no eopatch passes the coverage filter.
var ErrNoPatches = errors.New("no eopatch passed the crop coverage filter")

// Default feature locations inside an eopatch directory.
const (
	DefaultBandsFeature = "data/BANDS"
	DefaultMaskFeature  = "mask_timeless/CROPS"
)

// EOPatchLoader reads eopatch directories into paired imagery and label
// tensors. Each eopatch holds a bands array of shape (H, W, C) or
// (T, H, W, C) and a crop mask of shape (H, W) or (H, W, 1).
type EOPatchLoader struct {
	BandsFeature string
	MaskFeature  string
	// TimeIndex selects the acquisition when the bands have a time axis.
	TimeIndex int
	// Workers bounds concurrent eopatch reads. Zero uses GOMAXPROCS.
	Workers int
}

// NewEOPatchLoader creates a loader for the default feature layout
func NewEOPatchLoader() *EOPatchLoader {
	return &EOPatchLoader{
		BandsFeature: DefaultBandsFeature,
		MaskFeature:  DefaultMaskFeature,
	}
}

// PatchInfo describes one eopatch considered by Load.
type PatchInfo struct {
	Name     string
	Coverage float64
	Kept     bool
}

type patch struct {
	bands    []float32 // (C, H, W)
	mask     []int32   // (H, W)
	height   int
	width    int
	channels int
}

// Load returns X with shape (samples, channels, height, width) and y with
// shape (samples, height, width), keeping only eopatches whose share of
// non-zero crop pixels is at least minCropsCoverage. Eopatches are read in
// lexical directory order.
func (l *EOPatchLoader) Load(path string, minCropsCoverage float64) (*tensor.Tensor, *tensor.Tensor, error) {
	x, y, _, err := l.LoadWithReport(path, minCropsCoverage)
	return x, y, err
}

// LoadWithReport is Load that also reports the coverage of every eopatch.
func (l *EOPatchLoader) LoadWithReport(path string, minCropsCoverage float64) (*tensor.Tensor, *tensor.Tensor, []PatchInfo, error) {
	if minCropsCoverage < 0 || minCropsCoverage > 1 {
		return nil, nil, nil, fmt.Errorf("min crops coverage must be in [0, 1], got %g", minCropsCoverage)
	}

	dirs, err := patchDirs(path)
	if err != nil {
		return nil, nil, nil, err
	}

	results := l.readAll(dirs, minCropsCoverage)

	var kept []*patch
	report := make([]PatchInfo, 0, len(dirs))

	for i, res := range results {
		name := filepath.Base(dirs[i])
		if res.err != nil {
			return nil, nil, nil, fmt.Errorf("eopatch %s: %w", name, res.err)
		}

		p := res.patch
		info := PatchInfo{Name: name, Coverage: res.coverage}
		if res.coverage >= minCropsCoverage {
			if len(kept) > 0 {
				first := kept[0]
				if p.height != first.height || p.width != first.width || p.channels != first.channels {
					return nil, nil, nil, fmt.Errorf("eopatch %s has shape %dx%dx%d, expected %dx%dx%d",
						info.Name, p.height, p.width, p.channels, first.height, first.width, first.channels)
				}
			}
			kept = append(kept, p)
			info.Kept = true
		}
		report = append(report, info)
	}

	if len(kept) == 0 {
		return nil, nil, report, fmt.Errorf("%w: %d eopatches in %s, min coverage %g", ErrNoPatches, len(dirs), path, minCropsCoverage)
	}

	x, y, err := stack(kept)
	if err != nil {
		return nil, nil, report, err
	}
	return x, y, report, nil
}

type readResult struct {
	patch    *patch
	coverage float64
	err      error
}

// readAll reads every eopatch with a bounded worker pool. Results keep the
// order of dirs; bands of patches under the threshold are dropped early.
func (l *EOPatchLoader) readAll(dirs []string, minCropsCoverage float64) []readResult {
	workers := l.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(dirs) {
		workers = len(dirs)
	}

	results := make([]readResult, len(dirs))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				p, err := l.readPatch(dirs[i])
				if err != nil {
					results[i] = readResult{err: err}
					continue
				}
				coverage := cropCoverage(p.mask)
				if coverage < minCropsCoverage {
					p.bands = nil
				}
				results[i] = readResult{patch: p, coverage: coverage}
			}
		}()
	}

	for i := range dirs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

func patchDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list eopatches: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(root, entry.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// featurePath finds feature.npy or feature.npy.gz inside dir.
func featurePath(dir, feature string) (string, error) {
	base := filepath.Join(dir, filepath.FromSlash(feature))
	for _, candidate := range []string{base + ".npy", base + ".npy.gz"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("feature %s not found", feature)
}

func (l *EOPatchLoader) readPatch(dir string) (*patch, error) {
	bandsPath, err := featurePath(dir, l.BandsFeature)
	if err != nil {
		return nil, err
	}
	maskPath, err := featurePath(dir, l.MaskFeature)
	if err != nil {
		return nil, err
	}

	bands, err := readArray(bandsPath)
	if err != nil {
		return nil, err
	}
	mask, err := readArray(maskPath)
	if err != nil {
		return nil, err
	}

	var h, w, c int
	offset := 0
	switch len(bands.shape) {
	case 3:
		h, w, c = bands.shape[0], bands.shape[1], bands.shape[2]
	case 4:
		t := bands.shape[0]
		if l.TimeIndex < 0 || l.TimeIndex >= t {
			return nil, fmt.Errorf("time index %d outside %d acquisitions", l.TimeIndex, t)
		}
		h, w, c = bands.shape[1], bands.shape[2], bands.shape[3]
		offset = l.TimeIndex * h * w * c
	default:
		return nil, fmt.Errorf("bands must be (H, W, C) or (T, H, W, C), got %v", bands.shape)
	}

	switch {
	case len(mask.shape) == 2 && mask.shape[0] == h && mask.shape[1] == w:
	case len(mask.shape) == 3 && mask.shape[0] == h && mask.shape[1] == w && mask.shape[2] == 1:
	default:
		return nil, fmt.Errorf("mask shape %v does not match bands %dx%d", mask.shape, h, w)
	}

	// Channels-last on disk, channels-first in memory.
	p := &patch{
		bands:    make([]float32, c*h*w),
		mask:     make([]int32, h*w),
		height:   h,
		width:    w,
		channels: c,
	}
	for i := 0; i < h*w; i++ {
		for ch := 0; ch < c; ch++ {
			p.bands[ch*h*w+i] = float32(bands.data[offset+i*c+ch])
		}
		p.mask[i] = int32(mask.data[i])
	}
	return p, nil
}

func cropCoverage(mask []int32) float64 {
	if len(mask) == 0 {
		return 0
	}
	crops := 0
	for _, v := range mask {
		if v != 0 {
			crops++
		}
	}
	return float64(crops) / float64(len(mask))
}

func stack(patches []*patch) (*tensor.Tensor, *tensor.Tensor, error) {
	first := patches[0]
	n := len(patches)
	sampleX := first.channels * first.height * first.width
	sampleY := first.height * first.width

	xData := make([]float32, n*sampleX)
	yData := make([]int32, n*sampleY)
	for i, p := range patches {
		copy(xData[i*sampleX:], p.bands)
		copy(yData[i*sampleY:], p.mask)
	}

	x, err := tensor.NewTensor([]int{n, first.channels, first.height, first.width}, tensor.Float32, xData)
	if err != nil {
		return nil, nil, err
	}
	y, err := tensor.NewTensor([]int{n, first.height, first.width}, tensor.Int32, yData)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}
