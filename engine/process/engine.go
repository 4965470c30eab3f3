// Package process drives a deep-learning framework running as a child
// process. Requests and responses are JSON lines on the child's stdin and
// stdout; tensors travel as .npy files in a shared work directory.
package process

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/sbinet/npyio/npy"

	"github.com/satellitecrops/cropseg/engine"
	"github.com/satellitecrops/cropseg/internal/jsonfloat"
	"github.com/satellitecrops/cropseg/internal/logging"
	"github.com/satellitecrops/cropseg/layers"
	"github.com/satellitecrops/cropseg/tensor"
)

// Builder starts one framework process per model.
type Builder struct {
	command      string
	args         []string
	env          []string
	workDir      string
	stderr       io.Writer
	logger       *slog.Logger
	closeTimeout time.Duration
}

// Option configures the builder.
type Option func(*Builder)

// WithEnv adds KEY=VALUE pairs to the process environment.
func WithEnv(env ...string) Option {
	return func(b *Builder) {
		b.env = append(b.env, env...)
	}
}

// WithWorkDir sets the parent directory for staged arrays. A fresh
// subdirectory is created per model and removed on Close.
func WithWorkDir(dir string) Option {
	return func(b *Builder) {
		b.workDir = dir
	}
}

// WithStderr forwards the process stderr. Defaults to os.Stderr.
func WithStderr(w io.Writer) Option {
	return func(b *Builder) {
		b.stderr = w
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithCloseTimeout bounds how long Close waits for a clean exit.
func WithCloseTimeout(d time.Duration) Option {
	return func(b *Builder) {
		b.closeTimeout = d
	}
}

// NewBuilder creates a Builder that runs command with args.
func NewBuilder(command string, args []string, opts ...Option) *Builder {
	b := &Builder{
		command:      command,
		args:         args,
		stderr:       os.Stderr,
		logger:       logging.NewNop(),
		closeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build starts the process and asks it to instantiate the network.
func (b *Builder) Build(ctx context.Context, req engine.BuildRequest) (engine.Model, error) {
	if req.Spec == nil || !req.Spec.Compiled {
		return nil, fmt.Errorf("build requires a compiled model spec")
	}
	if req.Loss == nil {
		return nil, fmt.Errorf("build requires a loss")
	}
	if err := req.Optimizer.Validate(); err != nil {
		return nil, fmt.Errorf("invalid optimizer: %w", err)
	}

	workDir, err := os.MkdirTemp(b.workDir, "cropseg-engine-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	cmd := exec.Command(b.command, b.args...)
	cmd.Dir = workDir
	cmd.Env = append(cmd.Environ(), b.env...)
	cmd.Stderr = b.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to open engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to open engine stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("failed to start engine %s: %w", b.command, err)
	}

	m := &Model{
		spec:         req.Spec,
		cmd:          cmd,
		stdin:        stdin,
		dec:          json.NewDecoder(bufio.NewReader(stdout)),
		workDir:      workDir,
		logger:       b.logger.With("engine_pid", cmd.Process.Pid),
		closeTimeout: b.closeTimeout,
	}

	params := BuildParams{
		Spec: req.Spec,
		Optimizer: OptimizerParams{
			Type:   req.Optimizer.Type.String(),
			Params: req.Optimizer.Params(),
		},
		Loss: LossParams{
			Name:   req.Loss.Name(),
			Params: req.Loss.Params(),
		},
		Metrics: req.Metrics,
	}
	if err := m.call(ctx, MethodBuild, params, nil); err != nil {
		m.Close()
		return nil, err
	}

	m.logger.Debug("engine model built",
		"layers", len(req.Spec.Layers),
		"parameters", req.Spec.TotalParameters,
		"optimizer", req.Optimizer.Type.String(),
		"loss", req.Loss.Name())
	return m, nil
}

// Model is a network instantiated inside the framework process.
type Model struct {
	spec *layers.ModelSpec

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	dec    *json.Decoder
	nextID int64
	closed bool
	exited bool

	workDir      string
	logger       *slog.Logger
	closeTimeout time.Duration
}

var _ engine.Model = (*Model)(nil)

func (m *Model) Spec() *layers.ModelSpec {
	return m.spec
}

// Stage writes x and y to the work directory and registers them under name.
func (m *Model) Stage(ctx context.Context, name string, x, y *tensor.Tensor) error {
	if x.Samples() != y.Samples() {
		return fmt.Errorf("stage %s: %d images but %d labels", name, x.Samples(), y.Samples())
	}

	xRef, err := m.writeArray(name+"_x.npy", x)
	if err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}
	yRef, err := m.writeArray(name+"_y.npy", y)
	if err != nil {
		return fmt.Errorf("stage %s: %w", name, err)
	}

	return m.call(ctx, MethodStage, StageParams{Dataset: name, X: xRef, Y: yRef}, nil)
}

// TrainEpoch runs one epoch over a staged dataset. A diverged metric may
// arrive as null or "NaN" and is returned as NaN.
func (m *Model) TrainEpoch(ctx context.Context, name string, batchSize int, shuffle bool) (engine.Metrics, error) {
	var metrics map[string]jsonfloat.Float
	err := m.call(ctx, MethodTrainEpoch, EpochParams{Dataset: name, BatchSize: batchSize, Shuffle: shuffle}, &metrics)
	return engine.Metrics(jsonfloat.Float64Map(metrics)), err
}

func (m *Model) Evaluate(ctx context.Context, name string, batchSize int) (engine.Metrics, error) {
	var metrics map[string]jsonfloat.Float
	err := m.call(ctx, MethodEvaluate, EpochParams{Dataset: name, BatchSize: batchSize}, &metrics)
	return engine.Metrics(jsonfloat.Float64Map(metrics)), err
}

// SaveWeights asks the framework to write its native weights file.
func (m *Model) SaveWeights(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve weights path: %w", err)
	}
	return m.call(ctx, MethodSaveWeights, SaveParams{Path: abs}, nil)
}

// Close shuts the process down and removes staged arrays. It is safe to
// call more than once.
func (m *Model) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.closeTimeout)
	defer cancel()
	if err := m.call(ctx, MethodShutdown, nil, nil); err != nil && !errors.Is(err, engine.ErrEngineClosed) {
		m.logger.Warn("engine shutdown failed", "error", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.terminate()
}

// terminate must be called with mu held.
func (m *Model) terminate() error {
	if m.exited {
		return nil
	}
	m.exited = true
	m.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- m.cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-time.After(m.closeTimeout):
		m.cmd.Process.Kill()
		waitErr = <-done
	}

	if err := os.RemoveAll(m.workDir); err != nil {
		return fmt.Errorf("failed to remove work directory: %w", err)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			m.logger.Debug("engine exited", "code", exitErr.ExitCode())
			return nil
		}
		return fmt.Errorf("engine wait failed: %w", waitErr)
	}
	return nil
}

func (m *Model) writeArray(filename string, t *tensor.Tensor) (ArrayRef, error) {
	path := filepath.Join(m.workDir, filename)
	f, err := os.Create(path)
	if err != nil {
		return ArrayRef{}, fmt.Errorf("failed to create %s: %w", filename, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	switch t.DType {
	case tensor.Float32:
		data, err := t.GetFloat32Data()
		if err != nil {
			return ArrayRef{}, err
		}
		err = npy.Write(w, data[:t.NumElems])
		if err != nil {
			return ArrayRef{}, fmt.Errorf("failed to write %s: %w", filename, err)
		}
	case tensor.Int32:
		data, err := t.GetInt32Data()
		if err != nil {
			return ArrayRef{}, err
		}
		err = npy.Write(w, data[:t.NumElems])
		if err != nil {
			return ArrayRef{}, fmt.Errorf("failed to write %s: %w", filename, err)
		}
	default:
		return ArrayRef{}, fmt.Errorf("unsupported dtype %s", t.DType)
	}
	if err := w.Flush(); err != nil {
		return ArrayRef{}, fmt.Errorf("failed to write %s: %w", filename, err)
	}
	if err := f.Close(); err != nil {
		return ArrayRef{}, fmt.Errorf("failed to close %s: %w", filename, err)
	}

	return ArrayRef{Path: path, Shape: t.Size(), DType: t.DType.String()}, nil
}

type callResult struct {
	resp Response
	err  error
}

// call sends one request and waits for its response. A cancelled context
// kills the process, since the protocol has no way to abort a request.
func (m *Model) call(ctx context.Context, method string, params, result interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return engine.ErrEngineClosed
	}

	m.nextID++
	req := Request{ID: m.nextID, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	line = append(line, '\n')

	start := time.Now()
	if _, err := m.stdin.Write(line); err != nil {
		m.closed = true
		m.terminate()
		return fmt.Errorf("engine %s: failed to send request: %w", method, err)
	}

	ch := make(chan callResult, 1)
	go func() {
		var resp Response
		err := m.dec.Decode(&resp)
		ch <- callResult{resp: resp, err: err}
	}()

	var res callResult
	select {
	case <-ctx.Done():
		m.closed = true
		m.cmd.Process.Kill()
		<-ch
		m.terminate()
		return fmt.Errorf("engine %s: %w", method, ctx.Err())
	case res = <-ch:
	}

	if res.err != nil {
		m.closed = true
		m.terminate()
		return fmt.Errorf("engine %s: failed to read response: %w", method, res.err)
	}
	if res.resp.ID != req.ID {
		m.closed = true
		m.terminate()
		return fmt.Errorf("engine %s: response id %d does not match request %d", method, res.resp.ID, req.ID)
	}

	m.logger.Debug("engine call", "method", method, "duration", time.Since(start))

	if res.resp.Error != "" {
		return fmt.Errorf("engine %s: %s", method, res.resp.Error)
	}
	if result != nil && len(res.resp.Result) > 0 {
		if err := json.Unmarshal(res.resp.Result, result); err != nil {
			return fmt.Errorf("engine %s: failed to decode result: %w", method, err)
		}
	}
	return nil
}
