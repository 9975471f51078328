package classifier

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/disintegration/imaging"
	onnxrt "github.com/yalue/onnxruntime_go"

	"github.com/MeKo-Tech/omr/internal/fill"
	"github.com/MeKo-Tech/omr/internal/onnx"
	"github.com/MeKo-Tech/omr/internal/utils"
)

// defaultInputSide is used when the model input has dynamic spatial dims.
const defaultInputSide = 32

// ONNXModel scores a resized cell patch with an ONNX network taking a
// [1,1,H,W] input and producing either one fill probability or two class
// logits (blank, filled).
type ONNXModel struct {
	session    *onnxrt.DynamicAdvancedSession
	inputInfo  onnxrt.InputOutputInfo
	outputInfo onnxrt.InputOutputInfo
	inH, inW   int
}

// NewONNXModel loads the model at cfg.ModelPath.
func NewONNXModel(cfg Config) (*ONNXModel, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("empty model path")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, err
	}
	if err := onnx.Initialize(cfg.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxrt.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("io info: %w", err)
	}
	in, out, err := validateModelIO(inputs, outputs)
	if err != nil {
		return nil, err
	}

	opts, err := onnxrt.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session opts: %w", err)
	}
	defer func() {
		if err := opts.Destroy(); err != nil {
			slog.Warn("Failed to destroy session options", "error", err)
		}
	}()
	if err := onnx.ConfigureSessionForGPU(opts, cfg.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}
	if cfg.NumThreads > 0 {
		_ = opts.SetIntraOpNumThreads(cfg.NumThreads)
	}

	sess, err := onnxrt.NewDynamicAdvancedSession(cfg.ModelPath, []string{in.Name}, []string{out.Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	m := &ONNXModel{session: sess, inputInfo: in, outputInfo: out, inH: defaultInputSide, inW: defaultInputSide}
	if h := in.Dimensions[2]; h > 0 {
		m.inH = int(h)
	}
	if w := in.Dimensions[3]; w > 0 {
		m.inW = int(w)
	}
	return m, nil
}

func validateModelIO(inputs, outputs []onnxrt.InputOutputInfo) (onnxrt.InputOutputInfo, onnxrt.InputOutputInfo, error) {
	var none onnxrt.InputOutputInfo
	if len(inputs) != 1 || len(outputs) != 1 {
		return none, none, fmt.Errorf("unexpected io (in:%d out:%d)", len(inputs), len(outputs))
	}
	in := inputs[0]
	if len(in.Dimensions) != 4 {
		return none, none, fmt.Errorf("expected 4D input, got %dD", len(in.Dimensions))
	}
	if c := in.Dimensions[1]; c > 1 {
		return none, none, fmt.Errorf("expected a single input channel, got %d", c)
	}
	return in, outputs[0], nil
}

// Kind implements Estimator.
func (m *ONNXModel) Kind() string { return KindONNX }

// Close releases the session.
func (m *ONNXModel) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

// Estimate implements fill.FillEstimator.
func (m *ONNXModel) Estimate(p fill.CellPatch) (float64, error) {
	if m.session == nil {
		return 0, errors.New("onnx session closed")
	}
	patch, err := utils.ResizeGray(p.Pixels(), m.inW, m.inH, imaging.Linear)
	if err != nil {
		return 0, err
	}
	t, err := onnx.GrayTensor(patch)
	if err != nil {
		return 0, err
	}
	input, err := onnxrt.NewTensor(onnxrt.NewShape(t.Shape...), t.Data)
	if err != nil {
		return 0, fmt.Errorf("tensor: %w", err)
	}
	defer func() { _ = input.Destroy() }()

	outputs := []onnxrt.Value{nil}
	if err := m.session.Run([]onnxrt.Value{input}, outputs); err != nil {
		return 0, fmt.Errorf("run: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
	}()

	out, ok := outputs[0].(*onnxrt.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	return probability(out.GetData())
}

// probability interprets the network output: a single value is a
// probability (or a logit when outside [0,1]); two values are class logits.
func probability(out []float32) (float64, error) {
	switch {
	case len(out) == 1:
		v := float64(out[0])
		if v >= 0 && v <= 1 {
			return v, nil
		}
		return 1 / (1 + math.Exp(-v)), nil
	case len(out) >= 2:
		a, b := float64(out[0]), float64(out[1])
		hi := max(a, b)
		ea, eb := math.Exp(a-hi), math.Exp(b-hi)
		return eb / (ea + eb), nil
	default:
		return 0, errors.New("empty model output")
	}
}
