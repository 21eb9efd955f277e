package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Fields is the typed field set extracted from one document. It is a closed
// sum over ContratoSocial, CartaoCNPJ and CertidaoNegativa.
type Fields interface {
	Type() DocumentType
	Validate() error
	isFields()
}

// Endereco is a postal address as printed on the documents.
type Endereco struct {
	Logradouro  string `json:"logradouro,omitempty"`
	Numero      string `json:"numero,omitempty"`
	Complemento string `json:"complemento,omitempty"`
	Bairro      string `json:"bairro,omitempty"`
	Cidade      string `json:"cidade,omitempty"`
	Municipio   string `json:"municipio,omitempty"`
	UF          string `json:"uf,omitempty" validate:"omitempty,len=2,alpha"`
	CEP         string `json:"cep,omitempty"`
}

// City returns the city regardless of which key the document used.
func (e Endereco) City() string {
	if e.Cidade != "" {
		return e.Cidade
	}
	return e.Municipio
}

type Socio struct {
	Nome         string `json:"nome"`
	CPF          string `json:"cpf,omitempty" validate:"omitempty,cpf"`
	Qualificacao string `json:"qualificacao,omitempty"`
	Participacao string `json:"participacao,omitempty"`
}

type QSAMembro struct {
	Nome         string `json:"nome"`
	CPFCNPJ      string `json:"cpf_cnpj,omitempty"`
	Qualificacao string `json:"qualificacao,omitempty"`
}

type ContratoSocial struct {
	RazaoSocial    string    `json:"razao_social,omitempty"`
	CNPJ           string    `json:"cnpj,omitempty" validate:"omitempty,cnpj"`
	NIRE           string    `json:"nire,omitempty"`
	DataRegistro   Date      `json:"data_registro"`
	JuntaComercial string    `json:"junta_comercial,omitempty"`
	Sede           *Endereco `json:"sede,omitempty"`
	ObjetoSocial   string    `json:"objeto_social,omitempty"`
	Socios         []Socio   `json:"socios,omitempty" validate:"omitempty,dive"`
}

type CartaoCNPJ struct {
	CNPJ                    string      `json:"cnpj,omitempty" validate:"omitempty,cnpj"`
	RazaoSocial             string      `json:"razao_social,omitempty"`
	NomeFantasia            string      `json:"nome_fantasia,omitempty"`
	DataAbertura            Date        `json:"data_abertura"`
	SituacaoCadastral       string      `json:"situacao_cadastral,omitempty"`
	DataSituacaoCadastral   Date        `json:"data_situacao_cadastral"`
	NaturezaJuridica        string      `json:"natureza_juridica,omitempty"`
	EnderecoEstabelecimento *Endereco   `json:"endereco_estabelecimento,omitempty"`
	CNAEPrincipal           string      `json:"cnae_principal,omitempty"`
	CNAEsSecundarios        []string    `json:"cnaes_secundarios,omitempty"`
	QSA                     []QSAMembro `json:"qsa,omitempty"`
}

type CertidaoNegativa struct {
	CNPJ                string `json:"cnpj,omitempty" validate:"omitempty,cnpj"`
	RazaoSocial         string `json:"razao_social,omitempty"`
	OrgaoEmissor        string `json:"orgao_emissor,omitempty"`
	TipoCertidao        string `json:"tipo_certidao,omitempty"`
	NumeroCertidao      string `json:"numero_certidao,omitempty"`
	CodigoAutenticidade string `json:"codigo_autenticidade,omitempty"`
	DataEmissao         Date   `json:"data_emissao"`
	DataValidade        Date   `json:"data_validade"`
	Resultado           string `json:"resultado,omitempty"`
	Observacoes         string `json:"observacoes,omitempty"`
}

func (ContratoSocial) Type() DocumentType   { return DocContratoSocial }
func (CartaoCNPJ) Type() DocumentType       { return DocCartaoCNPJ }
func (CertidaoNegativa) Type() DocumentType { return DocCertidaoNegativa }

func (ContratoSocial) isFields()   {}
func (CartaoCNPJ) isFields()       {}
func (CertidaoNegativa) isFields() {}

func (f ContratoSocial) Validate() error   { return fieldValidator().Struct(f) }
func (f CartaoCNPJ) Validate() error       { return fieldValidator().Struct(f) }
func (f CertidaoNegativa) Validate() error { return fieldValidator().Struct(f) }

// DecodeFields decodes the "data" object returned by the extractor into the
// typed schema for docType. Unknown keys are rejected.
func DecodeFields(docType DocumentType, raw []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	switch docType {
	case DocContratoSocial:
		var f ContratoSocial
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", docType, err)
		}
		return f, nil
	case DocCartaoCNPJ:
		var f CartaoCNPJ
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", docType, err)
		}
		return f, nil
	case DocCertidaoNegativa:
		var f CertidaoNegativa
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("decode %s: %w", docType, err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown document type %q", docType)
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func fieldValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("cnpj", digitCount(14))
		_ = validate.RegisterValidation("cpf", digitCount(11))
	})
	return validate
}

func digitCount(n int) validator.Func {
	return func(fl validator.FieldLevel) bool {
		count := 0
		for _, r := range fl.Field().String() {
			if unicode.IsDigit(r) {
				count++
			}
		}
		return count == n
	}
}

// Date is a calendar date without time of day, always UTC midnight.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// NewDate builds a Date from its components.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate accepts ISO (2006-01-02) and Brazilian (02/01/2006) layouts.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{dateLayout, "02/01/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{t}, nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q", s)
}

func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// AddMonths shifts d by months, clamping the day to the end of the target
// month (Aug 31 minus 6 months is Feb 28/29, not Mar 3).
func (d Date) AddMonths(months int) Date {
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := d.Day()
	if day > lastDay {
		day = lastDay
	}
	return NewDate(first.Year(), first.Month(), day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
