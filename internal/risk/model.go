package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// TextLengthFeature is the word-count column prepended to the TF-IDF row.
const TextLengthFeature = "text_length"

// Model is a fitted binary logistic regression. Class 1 means approved.
type Model struct {
	FeatureNames []string    `json:"feature_names"`
	Coef         [][]float64 `json:"coef"`
	Intercept    []float64   `json:"intercept"`
	Classes      []int       `json:"classes"`
}

// LoadModel reads a model artifact.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read risk model: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode risk model: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Model) validate() error {
	if len(m.Coef) != 1 {
		return fmt.Errorf("risk model must be binary, got %d coefficient rows", len(m.Coef))
	}
	if len(m.Intercept) != 1 {
		return errors.New("risk model needs exactly one intercept")
	}
	if len(m.Classes) == 0 {
		m.Classes = []int{0, 1}
	}
	if len(m.Classes) != 2 {
		return fmt.Errorf("risk model must have two classes, got %d", len(m.Classes))
	}
	return nil
}

// NumFeatures is the input width the model was trained on.
func (m *Model) NumFeatures() int {
	return len(m.FeatureNames)
}

// PredictProba returns the predicted class and the probability of that class.
func (m *Model) PredictProba(x []float64) (int, float64, error) {
	w := m.Coef[0]
	if len(x) != len(w) {
		return 0, 0, fmt.Errorf("feature row has %d columns, model expects %d", len(x), len(w))
	}
	z := m.Intercept[0]
	for i, xi := range x {
		z += w[i] * xi
	}
	p := 1 / (1 + math.Exp(-z))
	if math.IsNaN(p) {
		return 0, 0, errors.New("model produced NaN probability")
	}
	if z > 0 {
		return m.Classes[1], p, nil
	}
	return m.Classes[0], 1 - p, nil
}
