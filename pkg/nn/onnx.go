package nn

import (
	"math/bits"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/DmitryFilippov/Lumina/pkg/chess"
)

func init() {
	RegisterBackend("onnx", 10, newOnnxNetwork)
}

var onnxInitOnce sync.Once
var onnxInitErr error

// onnxNetwork evaluates batches through an ONNX Runtime session. The session
// is built once for the maximum batch size; short batches are zero padded.
// The compiled graph is a backend-specific artifact passed via the
// "onnx-model" option; head formats follow the loaded weights file. The
// model contract: input "planes" [N,112,8,8], outputs "policy"
// [N,moveIndices], "wdl" [N,3], "mlh" [N,1].
type onnxNetwork struct {
	mu       sync.Mutex
	caps     Capabilities
	session  *ort.AdvancedSession
	maxBatch int
	input    []float32
	policy   []float32
	wdl      []float32
	mlh      []float32
	tensors  []ort.Value
}

func newOnnxNetwork(cfg Config) (Network, error) {
	var model = cfg.Options["onnx-model"]
	if model == "" {
		return nil, errors.New("nn: onnx backend needs the onnx-model option")
	}
	onnxInitOnce.Do(func() {
		if lib := cfg.Options["onnx-lib"]; lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		if !ort.IsInitialized() {
			onnxInitErr = ort.InitializeEnvironment()
		}
	})
	if onnxInitErr != nil {
		return nil, errors.Wrap(onnxInitErr, "nn: onnx runtime init")
	}

	var maxBatch = cfg.MaxBatchSize
	if maxBatch < 1 {
		maxBatch = 1
	}
	var caps = Capabilities{Policy: PolicyClassical, Value: ValueWDL, MovesLeft: MovesLeftV1}
	if cfg.Weights != nil {
		caps = cfg.Weights.Caps
	}
	var n = &onnxNetwork{
		caps:     caps,
		maxBatch: maxBatch,
		input:    make([]float32, maxBatch*chess.NumInputPlanes*64),
		policy:   make([]float32, maxBatch*chess.NumMoveIndices),
		wdl:      make([]float32, maxBatch*3),
		mlh:      make([]float32, maxBatch),
	}

	var inputTensor, err = ort.NewTensor(ort.NewShape(int64(maxBatch), chess.NumInputPlanes, 8, 8), n.input)
	if err != nil {
		return nil, errors.Wrap(err, "nn: onnx input tensor")
	}
	policyTensor, err := ort.NewTensor(ort.NewShape(int64(maxBatch), chess.NumMoveIndices), n.policy)
	if err != nil {
		return nil, errors.Wrap(err, "nn: onnx policy tensor")
	}
	wdlTensor, err := ort.NewTensor(ort.NewShape(int64(maxBatch), 3), n.wdl)
	if err != nil {
		return nil, errors.Wrap(err, "nn: onnx wdl tensor")
	}
	mlhTensor, err := ort.NewTensor(ort.NewShape(int64(maxBatch), 1), n.mlh)
	if err != nil {
		return nil, errors.Wrap(err, "nn: onnx mlh tensor")
	}
	n.tensors = []ort.Value{inputTensor, policyTensor, wdlTensor, mlhTensor}

	session, err := ort.NewAdvancedSession(model,
		[]string{"planes"},
		[]string{"policy", "wdl", "mlh"},
		[]ort.Value{inputTensor},
		[]ort.Value{policyTensor, wdlTensor, mlhTensor},
		nil)
	if err != nil {
		for _, t := range n.tensors {
			t.Destroy()
		}
		return nil, errors.Wrap(err, "nn: onnx session")
	}
	n.session = session
	cfg.Logger.Info().Str("model", model).Int("max_batch", maxBatch).Msg("onnx session ready")
	return n, nil
}

func (n *onnxNetwork) Capabilities() Capabilities {
	return n.caps
}

func (n *onnxNetwork) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session != nil {
		n.session.Destroy()
		n.session = nil
	}
	for _, t := range n.tensors {
		t.Destroy()
	}
	n.tensors = nil
	return nil
}

func (n *onnxNetwork) NewComputation() Computation {
	return &onnxComputation{network: n}
}

type onnxComputation struct {
	network *onnxNetwork
	batch   []*chess.InputPlanes
	policy  []float32
	wdl     []float32
	mlh     []float32
}

func (c *onnxComputation) AddInput(planes *chess.InputPlanes) {
	c.batch = append(c.batch, planes)
}

func (c *onnxComputation) BatchSize() int { return len(c.batch) }

func (c *onnxComputation) Compute() error {
	var n = c.network
	if len(c.batch) > n.maxBatch {
		return errors.Errorf("nn: batch %v exceeds session size %v", len(c.batch), n.maxBatch)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return errors.New("nn: onnx session closed")
	}
	for i := range n.input {
		n.input[i] = 0
	}
	for i, planes := range c.batch {
		expandPlanes(n.input[i*chess.NumInputPlanes*64:], planes)
	}
	if err := n.session.Run(); err != nil {
		return errors.Wrap(err, "nn: onnx run")
	}
	var k = len(c.batch)
	c.policy = append(c.policy[:0], n.policy[:k*chess.NumMoveIndices]...)
	c.wdl = append(c.wdl[:0], n.wdl[:k*3]...)
	c.mlh = append(c.mlh[:0], n.mlh[:k]...)
	return nil
}

func expandPlanes(dst []float32, planes *chess.InputPlanes) {
	for p, plane := range planes {
		var base = p * 64
		var mask = plane.Mask
		for mask != 0 {
			dst[base+bits.TrailingZeros64(mask)] = plane.Value
			mask &= mask - 1
		}
	}
}

func (c *onnxComputation) Value(i int) float32 {
	var w, _, l = c.WDL(i)
	return w - l
}

func (c *onnxComputation) WDL(i int) (w, d, l float32) {
	return c.wdl[3*i], c.wdl[3*i+1], c.wdl[3*i+2]
}

func (c *onnxComputation) Policy(i, moveIndex int) float32 {
	return c.policy[i*chess.NumMoveIndices+moveIndex]
}

func (c *onnxComputation) MovesLeft(i int) float32 {
	return c.mlh[i]
}
