package models

import (
	"encoding/json"
	"time"
)

// DocumentType is the declared kind of a submitted PDF.
type DocumentType string

const (
	DocContratoSocial   DocumentType = "CONTRATO_SOCIAL"
	DocCartaoCNPJ       DocumentType = "CARTAO_CNPJ"
	DocCertidaoNegativa DocumentType = "CERTIDAO_NEGATIVA"
)

// DocumentTypes lists the supported types in canonical order. Cross-document
// rules use the first present type as the reference document.
var DocumentTypes = []DocumentType{DocContratoSocial, DocCartaoCNPJ, DocCertidaoNegativa}

// Valid reports whether t is one of the supported document types.
func (t DocumentType) Valid() bool {
	for _, known := range DocumentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Order returns the canonical position of t, or len(DocumentTypes) when unknown.
func (t DocumentType) Order() int {
	for i, known := range DocumentTypes {
		if t == known {
			return i
		}
	}
	return len(DocumentTypes)
}

// ExtractionStatus marks whether a document has an extraction result attached.
type ExtractionStatus string

const (
	ExtractionSucceeded ExtractionStatus = "EXTRACTED"
	ExtractionFailed    ExtractionStatus = "FAILED"
)

// Document is a submitted PDF together with its (write-once) extraction result.
type Document struct {
	ID               string            `json:"id"`
	JobID            string            `json:"job_id"`
	DocumentType     DocumentType      `json:"document_type"`
	Filename         string            `json:"filename"`
	ContentType      string            `json:"content_type"`
	SizeBytes        int64             `json:"size_bytes"`
	ChecksumSHA256   string            `json:"checksum_sha256"`
	ObjectKey        string            `json:"object_key"`
	ExtractionStatus *ExtractionStatus `json:"extraction_status"`
	ExtractedText    *string           `json:"extracted_text"`
	ExtractedData    json.RawMessage   `json:"extracted_data"`
	ExtractionError  *FailureInfo      `json:"extraction_error"`
	LLMModel         *string           `json:"llm_model"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// FailureInfo is the persisted form of a per-document extraction failure.
type FailureInfo struct {
	Kind         string       `json:"kind"`
	Message      string       `json:"message"`
	DetectedType DocumentType `json:"detected_type,omitempty"`
}

// ExtractionResult is produced once per document by the extraction pipeline.
// Exactly one of Fields and Failure is set.
type ExtractionResult struct {
	DocumentID   string
	DocumentType DocumentType
	Text         string
	Model        string
	Fields       Fields
	Confidence   float64
	Evidence     map[string]string
	Notes        []string
	Failure      *FailureInfo
}

// Succeeded reports whether typed fields were extracted.
func (r ExtractionResult) Succeeded() bool {
	return r.Fields != nil && r.Failure == nil
}

// Payload renders the JSON stored in documents.extracted_data.
func (r ExtractionResult) Payload() (json.RawMessage, error) {
	if r.Fields == nil {
		return nil, nil
	}
	return json.Marshal(extractedPayload{
		Data:       r.Fields,
		Confidence: r.Confidence,
		Evidence:   r.Evidence,
		Notes:      r.Notes,
	})
}

type extractedPayload struct {
	Data       Fields            `json:"data"`
	Confidence float64           `json:"confidence"`
	Evidence   map[string]string `json:"evidence,omitempty"`
	Notes      []string          `json:"notes,omitempty"`
}
