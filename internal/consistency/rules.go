package consistency

import (
	"fmt"

	"github.com/VCBorges/automatizai-challenge/internal/models"
)

// pairwise compares every document exposing a value against the first one
// (in canonical order) and reports one finding per disagreeing pair.
func pairwise(ev *evaluation, code, field string, literal func(facts) string, normalize func(string) string, message string) []models.Inconsistency {
	type entry struct {
		doc     facts
		literal string
		norm    string
	}
	var present []entry
	for _, d := range ev.docs {
		lit := literal(d)
		n := normalize(lit)
		if n == "" {
			continue
		}
		present = append(present, entry{doc: d, literal: lit, norm: n})
	}
	if len(present) < 2 {
		return nil
	}

	ref := present[0]
	var out []models.Inconsistency
	for _, other := range present[1:] {
		if other.norm == ref.norm {
			continue
		}
		out = append(out, models.Inconsistency{
			Code:     code,
			Severity: models.SeverityBlocker,
			Message:  fmt.Sprintf(message, ref.doc.docType, other.doc.docType),
			Pointers: models.Pointers{
				Field:     field,
				Documents: []models.DocumentType{ref.doc.docType, other.doc.docType},
				Values:    []string{ref.literal, other.literal},
			},
		})
	}
	return out
}

func checkCNPJ(ev *evaluation) []models.Inconsistency {
	return pairwise(ev, models.CodeCNPJMismatch, "cnpj",
		func(f facts) string { return f.cnpj }, digits,
		"CNPJ divergente entre %s e %s.")
}

func checkRazaoSocial(ev *evaluation) []models.Inconsistency {
	return pairwise(ev, models.CodeRazaoSocialMismatch, "razao_social",
		func(f facts) string { return f.razaoSocial }, text,
		"Razão social divergente entre %s e %s.")
}

func checkEndereco(ev *evaluation) []models.Inconsistency {
	out := pairwise(ev, models.CodeEnderecoMismatch, "endereco",
		func(f facts) string {
			if text(f.city) == "" {
				return ""
			}
			return f.city + "/" + f.uf
		},
		text,
		"Endereço (cidade/UF) divergente entre %s e %s.")
	for i := range out {
		out[i].Severity = models.SeverityWarn
	}
	return out
}

func checkCertificateExpired(ev *evaluation) []models.Inconsistency {
	var out []models.Inconsistency
	for _, d := range ev.docs {
		if d.docType != models.DocCertidaoNegativa || d.validUntil.IsZero() {
			continue
		}
		if !d.validUntil.Before(ev.on) {
			continue
		}
		out = append(out, models.Inconsistency{
			Code:     models.CodeCertificateExpired,
			Severity: models.SeverityBlocker,
			Message:  fmt.Sprintf("Certidão negativa vencida (validade: %s).", d.validUntil),
			Pointers: models.Pointers{
				Field:     "data_validade",
				Documents: []models.DocumentType{d.docType},
				Values:    []string{d.validUntil.String()},
			},
			DocumentID: documentID(d),
		})
	}
	return out
}

func checkDocumentAge(ev *evaluation) []models.Inconsistency {
	cutoff := ev.on.AddMonths(-MaxDocumentAgeMonths)
	var out []models.Inconsistency
	for _, d := range ev.docs {
		if d.issued.IsZero() || !d.issued.Before(cutoff) {
			continue
		}
		out = append(out, models.Inconsistency{
			Code:     models.CodeDocumentTooOld,
			Severity: ageSeverity(d.docType),
			Message:  fmt.Sprintf("%s emitido há mais de %d meses (%s: %s).", d.docType, MaxDocumentAgeMonths, d.issuedField, d.issued),
			Pointers: models.Pointers{
				Field:     d.issuedField,
				Documents: []models.DocumentType{d.docType},
				Values:    []string{d.issued.String()},
			},
			DocumentID: documentID(d),
		})
	}
	return out
}

// ageSeverity is WARN for the certidão, whose own expiry rule is the primary control.
func ageSeverity(t models.DocumentType) models.Severity {
	if t == models.DocCertidaoNegativa {
		return models.SeverityWarn
	}
	return models.SeverityBlocker
}

func checkSocioCPF(ev *evaluation) []models.Inconsistency {
	var contrato, cartao *facts
	for i := range ev.docs {
		switch ev.docs[i].docType {
		case models.DocContratoSocial:
			contrato = &ev.docs[i]
		case models.DocCartaoCNPJ:
			cartao = &ev.docs[i]
		}
	}
	if contrato == nil || cartao == nil {
		return nil
	}

	var out []models.Inconsistency
	seen := make(map[string]bool)
	for _, s := range contrato.partners {
		key, cpf := name(s.name), digits(s.id)
		if key == "" || cpf == "" || seen[key] {
			continue
		}
		for _, m := range cartao.partners {
			if name(m.name) != key {
				continue
			}
			other := digits(m.id)
			if other == "" {
				continue
			}
			seen[key] = true
			if other != cpf {
				out = append(out, models.Inconsistency{
					Code:     models.CodeSocioCPFMismatch,
					Severity: models.SeverityBlocker,
					Message:  fmt.Sprintf("CPF divergente para o sócio '%s' entre %s e %s.", s.name, contrato.docType, cartao.docType),
					Pointers: models.Pointers{
						Field:     "socio_cpf",
						Documents: []models.DocumentType{contrato.docType, cartao.docType},
						Values:    []string{s.id, m.id},
					},
				})
			}
			break
		}
	}
	return out
}

func documentID(f facts) *string {
	if f.documentID == "" {
		return nil
	}
	id := f.documentID
	return &id
}
