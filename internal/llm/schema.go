package llm

import (
	"github.com/VCBorges/automatizai-challenge/internal/models"
)

func nullableString() map[string]any {
	return map[string]any{"type": []string{"string", "null"}}
}

func object(props map[string]any, required ...string) map[string]any {
	o := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		o["required"] = required
	}
	return o
}

func nullable(schema map[string]any) map[string]any {
	return map[string]any{"anyOf": []any{schema, map[string]any{"type": "null"}}}
}

func arrayOf(items map[string]any) map[string]any {
	return map[string]any{"type": []string{"array", "null"}, "items": items}
}

func enderecoSchema(cityKey string) map[string]any {
	return object(map[string]any{
		"logradouro":  nullableString(),
		"numero":      nullableString(),
		"complemento": nullableString(),
		"bairro":      nullableString(),
		cityKey:       nullableString(),
		"uf":          nullableString(),
		"cep":         nullableString(),
	})
}

func dataSchema(t models.DocumentType) map[string]any {
	switch t {
	case models.DocContratoSocial:
		return object(map[string]any{
			"razao_social":    nullableString(),
			"cnpj":            nullableString(),
			"nire":            nullableString(),
			"data_registro":   nullableString(),
			"junta_comercial": nullableString(),
			"sede":            nullable(enderecoSchema("cidade")),
			"objeto_social":   nullableString(),
			"socios": arrayOf(object(map[string]any{
				"nome":         map[string]any{"type": "string"},
				"cpf":          nullableString(),
				"qualificacao": nullableString(),
				"participacao": nullableString(),
			}, "nome")),
		})
	case models.DocCartaoCNPJ:
		return object(map[string]any{
			"cnpj":                     nullableString(),
			"razao_social":             nullableString(),
			"nome_fantasia":            nullableString(),
			"data_abertura":            nullableString(),
			"situacao_cadastral":       nullableString(),
			"data_situacao_cadastral":  nullableString(),
			"natureza_juridica":        nullableString(),
			"endereco_estabelecimento": nullable(enderecoSchema("municipio")),
			"cnae_principal":           nullableString(),
			"cnaes_secundarios":        arrayOf(map[string]any{"type": "string"}),
			"qsa": arrayOf(object(map[string]any{
				"nome":         map[string]any{"type": "string"},
				"cpf_cnpj":     nullableString(),
				"qualificacao": nullableString(),
			}, "nome")),
		})
	default:
		return object(map[string]any{
			"cnpj":                 nullableString(),
			"razao_social":         nullableString(),
			"orgao_emissor":        nullableString(),
			"tipo_certidao":        nullableString(),
			"numero_certidao":      nullableString(),
			"codigo_autenticidade": nullableString(),
			"data_emissao":         nullableString(),
			"data_validade":        nullableString(),
			"resultado":            nullableString(),
			"observacoes":          nullableString(),
		})
	}
}

func confidenceSchema() map[string]any {
	return map[string]any{"type": "number", "minimum": 0, "maximum": 1}
}

// ExtractionSchema is the JSON Schema the extractor answer for t must match.
func ExtractionSchema(t models.DocumentType) map[string]any {
	evidenceValue := map[string]any{
		"anyOf": []any{
			map[string]any{"type": "string"},
			map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}
	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"data":       dataSchema(t),
			"confidence": confidenceSchema(),
			"evidence": map[string]any{
				"type":                 []string{"object", "null"},
				"additionalProperties": evidenceValue,
			},
			"notes": arrayOf(map[string]any{"type": "string"}),
		},
		"required":             []string{"data", "confidence"},
		"additionalProperties": false,
	}
}

// ClassificationSchema is the JSON Schema of the document-type check answer.
func ClassificationSchema() map[string]any {
	types := make([]string, 0, len(models.DocumentTypes))
	for _, t := range models.DocumentTypes {
		types = append(types, string(t))
	}
	return map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]any{
			"detected_type": map[string]any{"type": "string", "enum": types},
			"confidence":    confidenceSchema(),
			"evidence":      arrayOf(map[string]any{"type": "string"}),
			"rationale":     nullableString(),
		},
		"required":             []string{"detected_type", "confidence"},
		"additionalProperties": false,
	}
}
