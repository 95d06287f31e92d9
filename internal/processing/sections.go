package processing

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DeafMist/proposal-radar/internal/models"
)

// DefaultHeaders is the built-in canonical header list. Longer phrases come
// before their prefixes because the alternation is matched leftmost-first.
var DefaultHeaders = []string{
	"Abstract",
	"Introduction & Background",
	"Introduction",
	"Background",
	"Proposed Methodology",
	"Methodology",
	"System Design",
	"Expected Outcomes & Conclusion",
	"Conclusion",
	"References",
}

// SectionExtractor splits raw proposal text on recognised headers.
// It is immutable after construction and safe for concurrent use.
type SectionExtractor struct {
	headers []string
	pattern *regexp.Regexp
}

// NewSectionExtractor compiles the header pattern. An empty list falls back to
// DefaultHeaders.
func NewSectionExtractor(headers []string) (*SectionExtractor, error) {
	cleaned := make([]string, 0, len(headers))
	for _, h := range headers {
		if h = strings.TrimSpace(h); h != "" {
			cleaned = append(cleaned, h)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultHeaders...)
	}

	quoted := make([]string, len(cleaned))
	for i, h := range cleaned {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(h), " ", `[ \t]+`)
	}
	pattern, err := regexp.Compile(`(?im)^[ \t]*(?:\d+\.[ \t]*)?(` + strings.Join(quoted, "|") + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("compile header pattern: %w", err)
	}
	return &SectionExtractor{headers: cleaned, pattern: pattern}, nil
}

// LoadHeaders reads a YAML list of header phrases. An empty path returns
// DefaultHeaders.
func LoadHeaders(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return append([]string(nil), DefaultHeaders...), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read section headers: %w", err)
	}
	var doc struct {
		Headers []string `yaml:"headers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode section headers: %w", err)
	}
	if len(doc.Headers) == 0 {
		return nil, fmt.Errorf("section headers file %s lists no headers", path)
	}
	return doc.Headers, nil
}

// Headers returns a copy of the configured header phrases.
func (e *SectionExtractor) Headers() []string {
	return append([]string(nil), e.headers...)
}

// Extract splits text into sections. Text before the first header becomes
// the preamble; when no header is found the whole text is returned as a
// single unclassified section.
func (e *SectionExtractor) Extract(sourceID, text string) models.StructuredDocument {
	doc := models.StructuredDocument{SourceID: sourceID, IngestedAt: time.Now().UTC()}

	matches := e.pattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		doc.Sections = []models.Section{{Key: models.SectionUnclassified, Content: strings.TrimSpace(text)}}
		return doc
	}

	if pre := strings.TrimSpace(text[:matches[0][0]]); pre != "" {
		doc.Sections = append(doc.Sections, models.Section{Key: models.SectionPreamble, Content: pre})
	}

	positions := make(map[string]int, len(matches))
	for i, m := range matches {
		header := text[m[2]:m[3]]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		content := strings.TrimSpace(text[m[1]:end])
		key := SectionKey(header)

		// A repeated header extends the earlier section instead of replacing it.
		if pos, ok := positions[key]; ok {
			if content != "" {
				existing := doc.Sections[pos].Content
				if existing != "" {
					existing += "\n\n"
				}
				doc.Sections[pos].Content = existing + content
			}
			continue
		}
		positions[key] = len(doc.Sections)
		doc.Sections = append(doc.Sections, models.Section{Key: key, Header: strings.TrimSpace(header), Content: content})
	}
	return doc
}

// SectionKey turns a header phrase into its section key:
// "Introduction & Background" becomes "introduction_and_background".
func SectionKey(header string) string {
	fields := strings.Fields(strings.ToLower(header))
	for i, f := range fields {
		if f == "&" {
			fields[i] = "and"
			continue
		}
		fields[i] = strings.ReplaceAll(f, "&", "_and_")
	}
	return strings.Join(fields, "_")
}
