package models

import (
	"strings"
	"time"
)

// Section is one named block of a structured proposal.
type Section struct {
	Key     string `json:"key"`
	Header  string `json:"header,omitempty"`
	Content string `json:"content"`
}

// Well-known section keys that do not come from a recognised header.
const (
	SectionPreamble     = "preamble"
	SectionUnclassified = "unclassified"
)

// StructuredDocument is the output of the section extractor. Sections keep
// document order; the preamble, when present, comes first.
type StructuredDocument struct {
	SourceID   string    `json:"source_file"`
	IngestedAt time.Time `json:"ingestion_timestamp"`
	Sections   []Section `json:"content"`
}

// Section returns the section stored under key.
func (d StructuredDocument) Section(key string) (Section, bool) {
	for _, s := range d.Sections {
		if s.Key == key {
			return s, true
		}
	}
	return Section{}, false
}

// FullText joins every section's content with single spaces.
func (d StructuredDocument) FullText() string {
	parts := make([]string, 0, len(d.Sections))
	for _, s := range d.Sections {
		parts = append(parts, s.Content)
	}
	return strings.Join(parts, " ")
}

// KnowledgeBaseEntry is one prior project of the reference corpus.
type KnowledgeBaseEntry struct {
	ProjectID string `json:"project_id"`
	Title     string `json:"project_title"`
	Agency    string `json:"implementing_agency"`
	Year      int    `json:"year"`
	Status    string `json:"status"`
	FullText  string `json:"full_text"`
}

// Budget is the caller supplied cost structure of a proposal.
type Budget struct {
	TotalCost float64            `json:"total_cost"`
	Items     []string           `json:"items"`
	Costs     map[string]float64 `json:"costs"`
}

// Cost returns the sum of the given cost keys. Missing keys count as zero.
func (b Budget) Cost(keys ...string) float64 {
	var sum float64
	for _, k := range keys {
		sum += b.Costs[k]
	}
	return sum
}
