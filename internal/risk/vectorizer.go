package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/DeafMist/proposal-radar/internal/processing"
)

// Vectorizer reproduces a fitted TF-IDF transform: word tokens of two or
// more characters, stop word removal, n-grams, optional sublinear tf, idf
// weighting and row normalization.
type Vectorizer struct {
	Vocabulary  map[string]int `json:"vocabulary"`
	IDF         []float64      `json:"idf"`
	NgramRange  [2]int         `json:"ngram_range"`
	StopWords   []string       `json:"stop_words"`
	Lowercase   bool           `json:"lowercase"`
	SublinearTF bool           `json:"sublinear_tf"`
	Norm        string         `json:"norm"`

	stop map[string]struct{}
}

// LoadVectorizer reads a vectorizer artifact.
func LoadVectorizer(path string) (*Vectorizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vectorizer: %w", err)
	}
	v := &Vectorizer{Lowercase: true, Norm: "l2", NgramRange: [2]int{1, 1}}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode vectorizer: %w", err)
	}
	if err := v.init(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Vectorizer) init() error {
	if len(v.Vocabulary) == 0 {
		return errors.New("vectorizer has an empty vocabulary")
	}
	if len(v.IDF) != len(v.Vocabulary) {
		return fmt.Errorf("vectorizer idf has %d weights for %d terms", len(v.IDF), len(v.Vocabulary))
	}
	for term, col := range v.Vocabulary {
		if col < 0 || col >= len(v.IDF) {
			return fmt.Errorf("vocabulary term %q has column %d out of range", term, col)
		}
	}
	if v.NgramRange[0] < 1 || v.NgramRange[1] < v.NgramRange[0] {
		return fmt.Errorf("invalid ngram range %v", v.NgramRange)
	}
	switch v.Norm {
	case "l1", "l2", "", "none":
	default:
		return fmt.Errorf("unsupported norm %q", v.Norm)
	}
	v.stop = make(map[string]struct{}, len(v.StopWords))
	for _, w := range v.StopWords {
		v.stop[w] = struct{}{}
	}
	return nil
}

// Width is the number of TF-IDF columns.
func (v *Vectorizer) Width() int {
	return len(v.IDF)
}

// Transform returns the TF-IDF row of text.
func (v *Vectorizer) Transform(text string) []float64 {
	row := make([]float64, len(v.IDF))
	for _, term := range v.terms(text) {
		if col, ok := v.Vocabulary[term]; ok {
			row[col]++
		}
	}
	for i, tf := range row {
		if tf == 0 {
			continue
		}
		if v.SublinearTF {
			tf = 1 + math.Log(tf)
		}
		row[i] = tf * v.IDF[i]
	}
	normalize(row, v.Norm)
	return row
}

// terms yields the n-grams of the stop-word filtered token stream.
func (v *Vectorizer) terms(text string) []string {
	if v.Lowercase {
		text = strings.ToLower(text)
	}
	var tokens []string
	for _, tok := range processing.Words(text) {
		if _, skip := v.stop[tok]; !skip {
			tokens = append(tokens, tok)
		}
	}
	lo, hi := v.NgramRange[0], v.NgramRange[1]
	var out []string
	for n := lo; n <= hi; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+n], " "))
		}
	}
	return out
}

func normalize(row []float64, norm string) {
	var sum float64
	switch norm {
	case "l2":
		for _, x := range row {
			sum += x * x
		}
		sum = math.Sqrt(sum)
	case "l1":
		for _, x := range row {
			sum += math.Abs(x)
		}
	default:
		return
	}
	if sum == 0 {
		return
	}
	for i := range row {
		row[i] /= sum
	}
}
