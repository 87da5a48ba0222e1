package vision

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"
)

// ImageNet normalization (standard for torchvision models).
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

const (
	inputWidth  = 224
	inputHeight = 224
)

type LabelScore struct {
	Label string  `json:"label"`
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Classifier runs a MobileNetV2 ONNX model and describes an image by its
// top-k ImageNet labels. The model is loaded on first use.
type Classifier struct {
	mu sync.Mutex

	modelPath  string
	labelsPath string
	topK       int
	libPath    string

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	labels  []string
	loaded  bool
}

func NewClassifier(modelPath, labelsPath, onnxLibPath string, topK int) *Classifier {
	if topK <= 0 {
		topK = 3
	}
	return &Classifier{
		modelPath:  modelPath,
		labelsPath: labelsPath,
		topK:       topK,
		libPath:    onnxLibPath,
	}
}

func (c *Classifier) load() error {
	if c.loaded {
		return nil
	}

	if c.libPath != "" {
		ort.SetSharedLibraryPath(c.libPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("onnx init environment failed: %w", err)
		}
	}

	labels, err := loadLabels(c.labelsPath)
	if err != nil {
		return fmt.Errorf("load labels failed: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(c.modelPath)
	if err != nil {
		return fmt.Errorf("onnx read model io failed: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return fmt.Errorf("onnx model has no inputs or outputs")
	}

	input, err := ort.NewEmptyTensor[float32](inputs[0].Dimensions)
	if err != nil {
		return fmt.Errorf("onnx new input tensor failed: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](outputs[0].Dimensions)
	if err != nil {
		input.Destroy()
		return fmt.Errorf("onnx new output tensor failed: %w", err)
	}

	session, err := ort.NewAdvancedSession(c.modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		output.Destroy()
		input.Destroy()
		return fmt.Errorf("onnx new session failed: %w", err)
	}

	c.labels = labels
	c.input = input
	c.output = output
	c.session = session
	c.loaded = true
	return nil
}

func loadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		labels = append(labels, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return labels, nil
}

// Classify returns the top-k labels for the encoded image.
func (c *Classifier) Classify(ctx context.Context, data []byte) ([]LabelScore, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image failed: %w", err)
	}
	tensor := preprocess(img)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.load(); err != nil {
		return nil, err
	}

	in := c.input.GetData()
	if len(in) < len(tensor) {
		return nil, fmt.Errorf("input tensor size %d < preprocessed %d", len(in), len(tensor))
	}
	copy(in, tensor)
	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	return topLabels(softmax(c.output.GetData()), c.labels, c.topK), nil
}

func (c *Classifier) Describe(ctx context.Context, data []byte) (string, error) {
	scores, err := c.Classify(ctx, data)
	if err != nil {
		return "", err
	}
	return formatLabels(scores), nil
}

func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return nil
	}
	var closeErr error
	if err := c.session.Destroy(); err != nil {
		closeErr = err
	}
	if err := c.input.Destroy(); err != nil {
		closeErr = err
	}
	if err := c.output.Destroy(); err != nil {
		closeErr = err
	}
	c.loaded = false
	return closeErr
}

func topLabels(scores []float32, labels []string, k int) []LabelScore {
	if k > len(scores) {
		k = len(scores)
	}
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })

	out := make([]LabelScore, 0, k)
	for _, i := range idx[:k] {
		label := fmt.Sprintf("class %d", i)
		if i < len(labels) && labels[i] != "" {
			label = labels[i]
		}
		out = append(out, LabelScore{Label: label, Index: i, Score: scores[i]})
	}
	return out
}

func softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxLogit))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func formatLabels(scores []LabelScore) string {
	if len(scores) == 0 {
		return "image"
	}
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = fmt.Sprintf("%s (%.2f)", s.Label, s.Score)
	}
	return "image showing " + strings.Join(parts, ", ")
}

// preprocess resizes img to 224x224 and lays it out as normalized NCHW float32.
func preprocess(img image.Image) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, inputWidth, inputHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	const size = inputWidth * inputHeight
	out := make([]float32, 3*size)
	for y := 0; y < inputHeight; y++ {
		for x := 0; x < inputWidth; x++ {
			idx := y*inputWidth + x
			px := dst.RGBAAt(x, y)
			r, g, b := float32(px.R)/255.0, float32(px.G)/255.0, float32(px.B)/255.0
			out[0*size+idx] = (r - imagenetMean[0]) / imagenetStd[0]
			out[1*size+idx] = (g - imagenetMean[1]) / imagenetStd[1]
			out[2*size+idx] = (b - imagenetMean[2]) / imagenetStd[2]
		}
	}
	return out
}
