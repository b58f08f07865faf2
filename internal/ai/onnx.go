package ai

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	ort "github.com/yalue/onnxruntime_go"

	"compliance-doc-engine/internal/model"
)

// ONNXConfig configures the local embedding backend: a sentence-transformer
// style model exported to ONNX plus its vocabulary file (one token per line,
// id = line index).
type ONNXConfig struct {
	ModelPath string
	VocabPath string
	LibPath   string // optional onnxruntime shared library path
	Dimension int
	SeqLen    int
}

// ONNXEmbedder runs a local ONNX model for embedding. The session and its
// tensors are created lazily on first use and shared across calls under a
// mutex, so Embed holds no lock while callers are elsewhere.
type ONNXEmbedder struct {
	mu  sync.Mutex
	cfg ONNXConfig

	session *ort.AdvancedSession
	inputs  []*ort.Tensor[int64]
	output  *ort.Tensor[float32]
	vocab   map[string]int64
	unkID   int64
	padID   int64
	inited  bool
}

func NewONNXEmbedder(cfg ONNXConfig) *ONNXEmbedder {
	if cfg.SeqLen <= 0 {
		cfg.SeqLen = 256
	}
	return &ONNXEmbedder{cfg: cfg}
}

func (e *ONNXEmbedder) Dimension() int { return e.cfg.Dimension }

func (e *ONNXEmbedder) Model() string {
	return "onnx:" + filepath.Base(e.cfg.ModelPath)
}

// initLocked loads the runtime, vocabulary, and session. Caller holds e.mu.
func (e *ONNXEmbedder) initLocked() error {
	if e.inited {
		return nil
	}

	if e.cfg.LibPath != "" {
		ort.SetSharedLibraryPath(e.cfg.LibPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("%w: onnx init environment: %v", model.ErrEmbeddingBackend, err)
	}

	vocab, err := loadVocab(e.cfg.VocabPath)
	if err != nil {
		return fmt.Errorf("%w: load vocab: %v", model.ErrEmbeddingBackend, err)
	}
	e.vocab = vocab
	e.unkID = lookupSpecial(vocab, "[UNK]")
	e.padID = lookupSpecial(vocab, "[PAD]")

	inputs, outputs, err := ort.GetInputOutputInfo(e.cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("%w: onnx get input/output info: %v", model.ErrEmbeddingBackend, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return fmt.Errorf("%w: onnx model has no inputs or outputs", model.ErrEmbeddingBackend)
	}

	shape := ort.NewShape(1, int64(e.cfg.SeqLen))
	inputNames := make([]string, len(inputs))
	inputValues := make([]ort.Value, len(inputs))
	e.inputs = make([]*ort.Tensor[int64], len(inputs))
	for i := range inputs {
		inputNames[i] = inputs[i].Name
		tensor, err := ort.NewEmptyTensor[int64](shape)
		if err != nil {
			e.destroyTensorsLocked()
			return fmt.Errorf("%w: onnx new input tensor: %v", model.ErrEmbeddingBackend, err)
		}
		e.inputs[i] = tensor
		inputValues[i] = tensor
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(e.cfg.SeqLen), int64(e.cfg.Dimension)))
	if err != nil {
		e.destroyTensorsLocked()
		return fmt.Errorf("%w: onnx new output tensor: %v", model.ErrEmbeddingBackend, err)
	}
	e.output = outputTensor

	session, err := ort.NewAdvancedSession(e.cfg.ModelPath, inputNames, []string{outputs[0].Name},
		inputValues, []ort.Value{e.output}, nil)
	if err != nil {
		e.destroyTensorsLocked()
		return fmt.Errorf("%w: onnx new session: %v", model.ErrEmbeddingBackend, err)
	}
	e.session = session
	e.inited = true
	return nil
}

func (e *ONNXEmbedder) destroyTensorsLocked() {
	for _, t := range e.inputs {
		if t != nil {
			t.Destroy()
		}
	}
	e.inputs = nil
	if e.output != nil {
		e.output.Destroy()
		e.output = nil
	}
}

// Embed runs the model once per text and mean-pools the token states into a
// single vector.
func (e *ONNXEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.initLocked(); err != nil {
		return nil, err
	}

	result := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrEmbeddingBackend, err)
		}
		vec, err := e.embedOneLocked(text)
		if err != nil {
			return nil, err
		}
		result[i] = vec
	}
	return result, nil
}

func (e *ONNXEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *ONNXEmbedder) embedOneLocked(text string) ([]float32, error) {
	ids, mask := e.encode(text)

	for i, tensor := range e.inputs {
		data := tensor.GetData()
		src := ids
		if i > 0 {
			// Second declared input, if any, is the attention mask.
			src = mask
		}
		copy(data, src)
	}

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: onnx run: %v", model.ErrEmbeddingBackend, err)
	}

	// Mean-pool over non-pad positions: output layout [1, seq, dim].
	out := e.output.GetData()
	dim := e.cfg.Dimension
	vec := make([]float32, dim)
	var count float32
	for pos := 0; pos < e.cfg.SeqLen; pos++ {
		if mask[pos] == 0 {
			continue
		}
		base := pos * dim
		for d := 0; d < dim; d++ {
			vec[d] += out[base+d]
		}
		count++
	}
	if count > 0 {
		for d := range vec {
			vec[d] /= count
		}
	}
	return vec, nil
}

// encode lowercases, splits on non-alphanumeric runs, maps tokens through the
// vocabulary, and pads/truncates to the fixed sequence length.
func (e *ONNXEmbedder) encode(text string) (ids, mask []int64) {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	ids = make([]int64, e.cfg.SeqLen)
	mask = make([]int64, e.cfg.SeqLen)
	for i := range ids {
		ids[i] = e.padID
	}
	n := len(tokens)
	if n > e.cfg.SeqLen {
		n = e.cfg.SeqLen
	}
	for i := 0; i < n; i++ {
		id, ok := e.vocab[tokens[i]]
		if !ok {
			id = e.unkID
		}
		ids[i] = id
		mask[i] = 1
	}
	return ids, mask
}

func loadVocab(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var idx int64
	for sc.Scan() {
		token := strings.TrimSpace(sc.Text())
		if token != "" {
			vocab[token] = idx
		}
		idx++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocab file %s is empty", path)
	}
	return vocab, nil
}

func lookupSpecial(vocab map[string]int64, token string) int64 {
	if id, ok := vocab[token]; ok {
		return id
	}
	return 0
}
