package consistency

import "github.com/VCBorges/automatizai-challenge/internal/models"

type partner struct {
	name string
	id   string
}

// facts is the flat view of one document that the rules compare.
type facts struct {
	documentID  string
	docType     models.DocumentType
	cnpj        string
	razaoSocial string
	city        string
	uf          string
	issued      models.Date
	issuedField string
	validUntil  models.Date
	partners    []partner
}

func factsOf(r models.ExtractionResult) facts {
	f := facts{documentID: r.DocumentID, docType: r.DocumentType}
	switch v := r.Fields.(type) {
	case models.ContratoSocial:
		f.docType = models.DocContratoSocial
		f.cnpj, f.razaoSocial = v.CNPJ, v.RazaoSocial
		if v.Sede != nil {
			f.city, f.uf = v.Sede.City(), v.Sede.UF
		}
		f.issued, f.issuedField = v.DataRegistro, "data_registro"
		for _, s := range v.Socios {
			f.partners = append(f.partners, partner{name: s.Nome, id: s.CPF})
		}
	case models.CartaoCNPJ:
		f.docType = models.DocCartaoCNPJ
		f.cnpj, f.razaoSocial = v.CNPJ, v.RazaoSocial
		if v.EnderecoEstabelecimento != nil {
			f.city, f.uf = v.EnderecoEstabelecimento.City(), v.EnderecoEstabelecimento.UF
		}
		f.issued, f.issuedField = v.DataSituacaoCadastral, "data_situacao_cadastral"
		for _, m := range v.QSA {
			f.partners = append(f.partners, partner{name: m.Nome, id: m.CPFCNPJ})
		}
	case models.CertidaoNegativa:
		f.docType = models.DocCertidaoNegativa
		f.cnpj, f.razaoSocial = v.CNPJ, v.RazaoSocial
		f.issued, f.issuedField = v.DataEmissao, "data_emissao"
		f.validUntil = v.DataValidade
	}
	return f
}
