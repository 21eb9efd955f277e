package models

// Severity ranks a finding. BLOCKER forces rejection, WARN is advisory.
type Severity string

const (
	SeverityBlocker Severity = "BLOCKER"
	SeverityWarn    Severity = "WARN"
)

// Finding codes emitted by the consistency rules.
const (
	CodeCNPJMismatch        = "cnpj_mismatch"
	CodeRazaoSocialMismatch = "razao_social_mismatch"
	CodeEnderecoMismatch    = "endereco_mismatch"
	CodeCertificateExpired  = "certificate_expired"
	CodeDocumentTooOld      = "document_older_than_6_months"
	CodeSocioCPFMismatch    = "socio_cpf_mismatch"
)

// Pointers carries the literal evidence behind a finding.
type Pointers struct {
	Field     string         `json:"field"`
	Documents []DocumentType `json:"documents"`
	Values    []string       `json:"values"`
}

// Inconsistency is one finding of the consistency engine.
type Inconsistency struct {
	ID         string   `json:"id"`
	Position   int      `json:"position"`
	Code       string   `json:"code"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Pointers   Pointers `json:"pointers"`
	DocumentID *string  `json:"document_id"`
}
