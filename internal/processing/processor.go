package processing

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	whitespace = regexp.MustCompile(`[ \t\f\v\r]+`)
	blankLines = regexp.MustCompile(`\n{3,}`)
	// Same token rule as the TF-IDF vectorizer used at training time:
	// runs of two or more word characters.
	tokenRegex = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)
)

// NormalizeText applies NFKC normalization, drops control characters other
// than newlines and tabs, and squeezes horizontal whitespace.
func NormalizeText(input string) string {
	if input == "" {
		return ""
	}
	normed := norm.NFKC.String(input)
	normed = strings.ReplaceAll(normed, "\r\n", "\n")
	normed = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, normed)
	normed = whitespace.ReplaceAllString(normed, " ")
	normed = blankLines.ReplaceAllString(normed, "\n\n")
	return strings.TrimSpace(normed)
}

// Tokenize lowercases the text and returns its word tokens in order.
func Tokenize(text string) []string {
	return Words(strings.ToLower(text))
}

// Words returns the word tokens of text in order without changing case.
func Words(text string) []string {
	if text == "" {
		return nil
	}
	return tokenRegex.FindAllString(text, -1)
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// BuildDocumentID hashes the document name and content into a stable id.
func BuildDocumentID(name string, content []byte) string {
	h := sha1.New()
	h.Write([]byte(name))
	h.Write([]byte{'|'})
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
