// Package pdftext turns uploaded PDFs into plain text for the extractor.
package pdftext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// DefaultMinTextLength is the shortest embedded text considered usable before
// falling back to OCR.
const DefaultMinTextLength = 50

var (
	// ErrUnreadable means neither the embedded text nor OCR produced usable text.
	ErrUnreadable = errors.New("pdf content unreadable")
	// ErrOCRUnavailable is returned by NoOCR.
	ErrOCRUnavailable = errors.New("ocr not available")
)

// OCR recognizes text from a scanned PDF.
type OCR interface {
	Recognize(ctx context.Context, data []byte) (string, error)
}

// NoOCR is the default fallback: scanned documents are reported unreadable.
type NoOCR struct{}

func (NoOCR) Recognize(context.Context, []byte) (string, error) {
	return "", ErrOCRUnavailable
}

// Extractor reads embedded PDF text and falls back to OCR when it is too short.
type Extractor struct {
	minLength int
	ocr       OCR
	parse     func(data []byte) (string, error)
}

func New(minLength int, ocr OCR) *Extractor {
	if minLength <= 0 {
		minLength = DefaultMinTextLength
	}
	if ocr == nil {
		ocr = NoOCR{}
	}
	return &Extractor{minLength: minLength, ocr: ocr, parse: plainText}
}

// Text returns the cleaned text of data or an error wrapping ErrUnreadable.
func (e *Extractor) Text(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrUnreadable)
	}

	text, parseErr := e.parse(data)
	text = clean(text)
	if parseErr == nil && utf8.RuneCountInString(text) >= e.minLength {
		return text, nil
	}

	ocrText, err := e.ocr.Recognize(ctx, data)
	if err != nil {
		if parseErr != nil {
			return "", fmt.Errorf("%w: parse: %v; ocr: %v", ErrUnreadable, parseErr, err)
		}
		return "", fmt.Errorf("%w: %d characters of embedded text; ocr: %v", ErrUnreadable, utf8.RuneCountInString(text), err)
	}
	ocrText = clean(ocrText)
	if utf8.RuneCountInString(ocrText) < e.minLength {
		return "", fmt.Errorf("%w: ocr produced %d characters", ErrUnreadable, utf8.RuneCountInString(ocrText))
	}
	return ocrText, nil
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

func plainText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
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
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("copy pdf text: %w", err)
	}
	return buf.String(), nil
}

// clean trims every line, collapses inner whitespace and drops blank lines.
func clean(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if collapsed := strings.Join(strings.Fields(line), " "); collapsed != "" {
			out = append(out, collapsed)
		}
	}
	return strings.Join(out, "\n")
}
