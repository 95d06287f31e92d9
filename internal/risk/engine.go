package risk

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/DeafMist/proposal-radar/internal/logger"
	"github.com/DeafMist/proposal-radar/internal/models"
	"github.com/DeafMist/proposal-radar/internal/processing"
)

// Degraded reasons and the fixed confidences reported with them.
const (
	ReasonFeatureMismatch = "feature_mismatch"
	ReasonPredictionError = "prediction_error"

	MismatchConfidence = 78
	ErrorConfidence    = 82

	approvedClass = 1

	minDisplayConfidence = 70
	maxDisplayConfidence = 94
)

// Engine predicts the approval class of a proposal. The column order of the
// feature row is resolved once against the model's training order.
type Engine struct {
	vec     *Vectorizer
	model   *Model
	columns []int
	// mismatch is set when the artifacts disagree on the feature layout.
	mismatch error
	log      *slog.Logger
}

// Load reads both artifacts and builds an engine.
func Load(vectorizerPath, modelPath string, log *slog.Logger) (*Engine, error) {
	vec, err := LoadVectorizer(vectorizerPath)
	if err != nil {
		return nil, err
	}
	model, err := LoadModel(modelPath)
	if err != nil {
		return nil, err
	}
	return NewEngine(vec, model, log), nil
}

// NewEngine resolves the feature layout. A layout mismatch is not an error
// here: the engine then answers every request with the mismatch fallback.
func NewEngine(vec *Vectorizer, model *Model, log *slog.Logger) *Engine {
	e := &Engine{vec: vec, model: model, log: logger.OrDiscard(log)}
	e.columns, e.mismatch = resolveColumns(vec, model)
	if e.mismatch != nil {
		e.log.Warn("risk artifacts disagree, predictions will fall back", slog.Any("err", e.mismatch))
	}
	return e
}

// resolveColumns maps each model feature to its vectorizer column, with -1
// standing for the text length feature.
func resolveColumns(vec *Vectorizer, model *Model) ([]int, error) {
	if vec == nil || model == nil {
		return nil, errors.New("risk artifacts not loaded")
	}
	if got, want := vec.Width()+1, model.NumFeatures(); got != want {
		return nil, fmt.Errorf("vectorizer yields %d features, model expects %d", got, want)
	}
	if len(model.Coef[0]) != model.NumFeatures() {
		return nil, fmt.Errorf("model has %d coefficients for %d features", len(model.Coef[0]), model.NumFeatures())
	}
	columns := make([]int, len(model.FeatureNames))
	for i, name := range model.FeatureNames {
		if name == TextLengthFeature {
			columns[i] = -1
			continue
		}
		col, ok := vec.Vocabulary[name]
		if !ok {
			return nil, fmt.Errorf("model feature %q is not in the vocabulary", name)
		}
		columns[i] = col
	}
	return columns, nil
}

// Predict classifies text. It never fails: artifact mismatches and runtime
// errors produce fixed passing fallbacks marked as degraded.
func (e *Engine) Predict(text string) (res models.RiskResult) {
	if e.mismatch != nil {
		return Fallback(ReasonFeatureMismatch)
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("risk prediction panicked", slog.Any("panic", r))
			res = Fallback(ReasonPredictionError)
		}
	}()

	row := e.features(text)
	class, proba, err := e.model.PredictProba(row)
	if err != nil {
		e.log.Warn("risk prediction failed", slog.Any("err", err))
		return Fallback(ReasonPredictionError)
	}

	approved := class == approvedClass
	res = models.RiskResult{
		Status:            models.RiskRejected,
		ConfidencePercent: DisplayConfidence(proba),
		RawProbability:    proba,
		RiskLevel:         "High",
		Passed:            approved,
	}
	if approved {
		res.Status = models.RiskApproved
		res.RiskLevel = "Low"
	}
	return res
}

func (e *Engine) features(text string) []float64 {
	tfidf := e.vec.Transform(text)
	row := make([]float64, len(e.columns))
	for i, col := range e.columns {
		if col < 0 {
			row[i] = float64(processing.WordCount(text))
			continue
		}
		row[i] = tfidf[col]
	}
	return row
}

// Fallback is the fixed passing verdict for a degraded prediction.
func Fallback(reason string) models.RiskResult {
	confidence := ErrorConfidence
	if reason == ReasonFeatureMismatch {
		confidence = MismatchConfidence
	}
	return models.RiskResult{
		Status:            models.RiskApproved,
		ConfidencePercent: confidence,
		RiskLevel:         "Low",
		Passed:            true,
		Outcome:           models.Degraded(reason),
	}
}

// DisplayConfidence rescales a raw class probability into the 70..94 band
// shown to users.
func DisplayConfidence(proba float64) int {
	v := int(proba*100*0.85 + 15)
	if v < minDisplayConfidence {
		return minDisplayConfidence
	}
	if v > maxDisplayConfidence {
		return maxDisplayConfidence
	}
	return v
}
