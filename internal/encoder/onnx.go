package encoder

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/crimson-sun/threadclass/internal/compute"
	"github.com/crimson-sun/threadclass/internal/features"
)

// onnxFile is the name an ONNX encoder is saved under.
const onnxFile = "encoder.onnx"

// ortEnv guards process-wide ONNX Runtime initialisation.
var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNX runs a BERT-style transformer exported to ONNX and pools its output
// into one vector per row.
type ONNX struct {
	session    *ort.DynamicAdvancedSession
	modelPath  string
	inputNames []string
	outputName string
	tokenLevel bool // output is [batch, seq, dim] rather than [batch, dim]
	dim        int
	pooling    string
	device     string // resolved execution device
	mu         sync.Mutex
}

// NewONNX loads the model at modelPath. The model must take input_ids and
// attention_mask (token_type_ids is passed when present) and produce either
// token-level hidden states or pooled vectors as its first output.
func NewONNX(modelPath, pooling string, opts Options) (*ONNX, error) {
	switch pooling {
	case "", PoolMean:
		pooling = PoolMean
	case PoolCLS:
	default:
		return nil, fmt.Errorf("encoder: unknown pooling %q", pooling)
	}

	libPath := opts.ORTLib
	if libPath == "" {
		libPath = filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
	}
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("encoder: failed to initialize onnx runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("encoder: failed to read model info: %w", err)
	}
	inputNames, err := inputOrder(inputs)
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("encoder: model has no outputs")
	}
	out := outputs[0]
	var tokenLevel bool
	switch len(out.Dimensions) {
	case 3:
		tokenLevel = true
	case 2:
	default:
		return nil, fmt.Errorf("encoder: expected 2D or 3D output tensor, got %v", out.Dimensions)
	}
	dim := out.Dimensions[len(out.Dimensions)-1]
	if dim <= 0 {
		return nil, fmt.Errorf("encoder: output dimension must be static, got %v", out.Dimensions)
	}

	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("encoder: failed to create session options: %w", err)
	}
	defer so.Destroy()
	cc, err := configureSession(so, opts.Compute)
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{out.Name}, so)
	if err != nil {
		return nil, fmt.Errorf("encoder: failed to create session: %w", err)
	}

	return &ONNX{
		session:    session,
		modelPath:  modelPath,
		inputNames: inputNames,
		outputName: out.Name,
		tokenLevel: tokenLevel,
		dim:        int(dim),
		pooling:    pooling,
		device:     cc.Device,
	}, nil
}

// configureSession sets thread counts and attaches the CUDA provider when the
// context asks for it, or when it is auto and the provider loads. It returns
// the context with the device resolved.
func configureSession(so *ort.SessionOptions, cc compute.Context) (compute.Context, error) {
	threads := max(cc.Workers, 1)
	if err := so.SetIntraOpNumThreads(threads); err != nil {
		return cc, fmt.Errorf("encoder: set intra-op threads: %w", err)
	}
	if err := so.SetInterOpNumThreads(1); err != nil {
		return cc, fmt.Errorf("encoder: set inter-op threads: %w", err)
	}
	resolved, err := cc.Resolve(func() error {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return err
		}
		defer cuda.Destroy()
		return so.AppendExecutionProviderCUDA(cuda)
	})
	if err != nil {
		return cc, fmt.Errorf("encoder: %w", err)
	}
	return resolved, nil
}

// Device reports the device the session runs on.
func (e *ONNX) Device() string { return e.device }

// inputOrder returns the model inputs in the order Encode supplies tensors.
func inputOrder(inputs []ort.InputOutputInfo) ([]string, error) {
	have := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		have[in.Name] = true
	}
	names := []string{"input_ids", "attention_mask"}
	for _, name := range names {
		if !have[name] {
			return nil, fmt.Errorf("encoder: model missing required input %q", name)
		}
	}
	if have["token_type_ids"] {
		names = append(names, "token_type_ids")
	}
	return names, nil
}

// Encode implements Encoder.
func (e *ONNX) Encode(_ context.Context, b features.Batch) ([][]float32, error) {
	if b.BatchSize == 0 {
		return nil, nil
	}
	hidden, err := e.infer(b)
	if err != nil {
		return nil, err
	}
	if !e.tokenLevel {
		return rows(hidden, b.BatchSize, e.dim), nil
	}
	var pooled []float32
	if e.pooling == PoolCLS {
		pooled = clsPool(hidden, b.BatchSize, b.SeqLen, e.dim)
	} else {
		pooled = meanPool(hidden, b.AttentionMask, b.BatchSize, b.SeqLen, e.dim)
	}
	return rows(pooled, b.BatchSize, e.dim), nil
}

func (e *ONNX) infer(b features.Batch) ([]float32, error) {
	shape := ort.NewShape(int64(b.BatchSize), int64(b.SeqLen))
	data := map[string][]int64{
		"input_ids":      b.InputIDs,
		"attention_mask": b.AttentionMask,
		"token_type_ids": b.TokenTypeIDs,
	}
	ins := make([]ort.Value, 0, len(e.inputNames))
	defer func() {
		for _, v := range ins {
			v.Destroy()
		}
	}()
	for _, name := range e.inputNames {
		t, err := ort.NewTensor(shape, data[name])
		if err != nil {
			return nil, fmt.Errorf("encoder: failed to create %s tensor: %w", name, err)
		}
		ins = append(ins, t)
	}

	outShape := ort.NewShape(int64(b.BatchSize), int64(e.dim))
	if e.tokenLevel {
		outShape = ort.NewShape(int64(b.BatchSize), int64(b.SeqLen), int64(e.dim))
	}
	out, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, fmt.Errorf("encoder: failed to create output tensor: %w", err)
	}
	defer out.Destroy()

	e.mu.Lock()
	err = e.session.Run(ins, []ort.Value{out})
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("encoder: inference failed: %w", err)
	}

	src := out.GetData()
	res := make([]float32, len(src))
	copy(res, src)
	return res, nil
}

// Dim implements Encoder.
func (e *ONNX) Dim() int { return e.dim }

// Config implements Encoder.
func (e *ONNX) Config() Config {
	return Config{Type: KindONNX, Dim: e.dim, Pooling: e.pooling, File: onnxFile}
}

// Save copies the model file into dir.
func (e *ONNX) Save(dir string) error {
	if err := copyFile(e.modelPath, filepath.Join(dir, onnxFile)); err != nil {
		return fmt.Errorf("encoder: save: %w", err)
	}
	return nil
}

// Close releases the session.
func (e *ONNX) Close() error {
	if e.session == nil {
		return nil
	}
	return e.session.Destroy()
}
