package pdftext

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOCR struct {
	text  string
	err   error
	calls int
}

func (f *fakeOCR) Recognize(context.Context, []byte) (string, error) {
	f.calls++
	return f.text, f.err
}

func withParser(e *Extractor, text string, err error) *Extractor {
	e.parse = func([]byte) (string, error) { return text, err }
	return e
}

func TestTextUsesEmbeddedTextWhenLongEnough(t *testing.T) {
	ocr := &fakeOCR{}
	body := strings.Repeat("CNPJ 12.345.678/0001-99 ", 5)
	e := withParser(New(50, ocr), "  "+body+"\n\n", nil)

	got, err := e.Text(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(body), got)
	assert.Zero(t, ocr.calls)
}

func TestTextFallsBackToOCRForShortText(t *testing.T) {
	ocr := &fakeOCR{text: strings.Repeat("texto reconhecido ", 5)}
	e := withParser(New(50, ocr), "scan", nil)

	got, err := e.Text(context.Background(), []byte("%PDF"))
	require.NoError(t, err)
	assert.Contains(t, got, "texto reconhecido")
	assert.Equal(t, 1, ocr.calls)
}

func TestTextWithoutOCRIsUnreadable(t *testing.T) {
	e := withParser(New(0, nil), "", errors.New("malformed xref"))

	_, err := e.Text(context.Background(), []byte("garbage"))
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestTextRejectsEmptyFile(t *testing.T) {
	_, err := New(50, nil).Text(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestPlainTextOnInvalidPDF(t *testing.T) {
	_, err := New(50, nil).Text(context.Background(), []byte("definitely not a pdf"))
	assert.ErrorIs(t, err, ErrUnreadable)
}

func TestTruncateIsRuneSafe(t *testing.T) {
	assert.Equal(t, "ação", Truncate("ação social", 4))
	assert.Equal(t, "curto", Truncate("curto", 10))
}
