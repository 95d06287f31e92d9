package embedding

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/DeafMist/proposal-radar/internal/config"
)

const defaultMaxSeqLen = 256

var (
	ortOnce sync.Once
	ortErr  error
)

// initRuntime loads the onnxruntime shared library once per process.
func initRuntime(library string) error {
	ortOnce.Do(func() {
		if library != "" {
			ort.SetSharedLibraryPath(library)
		}
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// OrtEmbedder runs a sentence-transformer exported to ONNX and mean-pools
// the last hidden state into a unit vector.
type OrtEmbedder struct {
	tk        *tokenizer.Tokenizer
	session   *ort.DynamicAdvancedSession
	modelID   string
	dims      int
	maxSeqLen int

	// The session is not reentrant.
	mu sync.Mutex
}

// NewOrtEmbedder loads the tokenizer and the ONNX model.
func NewOrtEmbedder(cfg config.Embedding) (*OrtEmbedder, error) {
	if cfg.ModelPath == "" || cfg.TokenizerPath == "" {
		return nil, errors.New("EMBEDDING_ONNX_MODEL and EMBEDDING_TOKENIZER are required for the onnx provider")
	}
	if cfg.Dimensions <= 0 {
		return nil, errors.New("EMBEDDING_DIM must be positive")
	}
	if err := initRuntime(cfg.OrtLibrary); err != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", err)
	}
	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"}, nil)
	if err != nil {
		return nil, fmt.Errorf("open onnx session: %w", err)
	}

	modelID := cfg.ModelID
	if modelID == "" {
		modelID = filepath.Base(cfg.ModelPath)
	}
	maxSeqLen := cfg.MaxSeqLen
	if maxSeqLen <= 0 {
		maxSeqLen = defaultMaxSeqLen
	}
	return &OrtEmbedder{
		tk:        tk,
		session:   session,
		modelID:   modelID,
		dims:      cfg.Dimensions,
		maxSeqLen: maxSeqLen,
	}, nil
}

func (o *OrtEmbedder) ModelID() string { return o.modelID }

// Close releases the ONNX session.
func (o *OrtEmbedder) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	err := o.session.Destroy()
	o.session = nil
	return err
}

func (o *OrtEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, o.EmbedText)
}

func (o *OrtEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enc, err := o.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	ids := truncate(enc.GetIds(), o.maxSeqLen)
	mask := truncate(enc.GetAttentionMask(), o.maxSeqLen)
	types := truncate(enc.GetTypeIds(), o.maxSeqLen)
	n := len(ids)
	if n == 0 {
		return make([]float32, o.dims), nil
	}

	shape := ort.NewShape(1, int64(n))
	idsT, err := ort.NewTensor(shape, toInt64(ids))
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, toInt64(mask))
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer maskT.Destroy()
	typesT, err := ort.NewTensor(shape, toInt64(types))
	if err != nil {
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typesT.Destroy()
	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(n), int64(o.dims)))
	if err != nil {
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	defer out.Destroy()

	o.mu.Lock()
	if o.session == nil {
		o.mu.Unlock()
		return nil, errors.New("embedder is closed")
	}
	err = o.session.Run([]ort.Value{idsT, maskT, typesT}, []ort.Value{out})
	o.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run onnx session: %w", err)
	}
	return Normalize(meanPool(out.GetData(), mask, o.dims)), nil
}

// meanPool averages token vectors whose attention mask is set.
func meanPool(hidden []float32, mask []int, dims int) []float32 {
	vec := make([]float32, dims)
	var count float32
	for t, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[t*dims : (t+1)*dims]
		for i, v := range row {
			vec[i] += v
		}
		count++
	}
	if count == 0 {
		return vec
	}
	for i := range vec {
		vec[i] /= count
	}
	return vec
}

// truncate keeps the first limit-1 tokens and the final special token.
func truncate(xs []int, limit int) []int {
	if len(xs) <= limit {
		return xs
	}
	out := make([]int, 0, limit)
	out = append(out, xs[:limit-1]...)
	return append(out, xs[len(xs)-1])
}

func toInt64(xs []int) []int64 {
	out := make([]int64, len(xs))
	for i, x := range xs {
		out[i] = int64(x)
	}
	return out
}
