package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupported is returned for file types no handler accepts.
var ErrUnsupported = errors.New("unsupported file type")

// Handler turns raw file bytes of one format into plain text.
type Handler interface {
	CanHandle(ext string) bool
	Extract(data []byte) (string, error)
}

// Registry dispatches files to the first handler accepting their extension.
type Registry struct {
	handlers []Handler
}

// NewRegistry returns a registry with the plain text, DOCX and PDF handlers.
func NewRegistry() *Registry {
	return &Registry{
		handlers: []Handler{
			&TextHandler{},
			&DocxHandler{},
			&PDFHandler{},
		},
	}
}

// Supports reports whether filename has a handled extension.
func (r *Registry) Supports(filename string) bool {
	return r.handler(filename) != nil
}

// Extract returns the plain text of the named file.
func (r *Registry) Extract(filename string, data []byte) (string, error) {
	h := r.handler(filename)
	if h == nil {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(filename))
	}
	text, err := h.Extract(data)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filename, err)
	}
	return text, nil
}

func (r *Registry) handler(filename string) Handler {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, h := range r.handlers {
		if h.CanHandle(ext) {
			return h
		}
	}
	return nil
}

// TextHandler reads UTF-8 text and markdown.
type TextHandler struct{}

func (h *TextHandler) CanHandle(ext string) bool {
	return ext == ".txt" || ext == ".md"
}

func (h *TextHandler) Extract(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("text is not valid UTF-8")
	}
	return string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))), nil
}

// DocxHandler reads the body text of Office Open XML documents.
type DocxHandler struct{}

func (h *DocxHandler) CanHandle(ext string) bool {
	return ext == ".docx"
}

func (h *DocxHandler) Extract(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx archive: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open document part: %w", err)
		}
		defer rc.Close()
		return docxText(rc)
	}
	return "", errors.New("docx has no word/document.xml")
}

// docxText collects w:t runs; paragraphs end with a newline.
func docxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode document part: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// PDFHandler reads the text layer of PDF files.
type PDFHandler struct{}

func (h *PDFHandler) CanHandle(ext string) bool {
	return ext == ".pdf"
}

func (h *PDFHandler) Extract(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}
