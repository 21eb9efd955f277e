package llm

import (
	"encoding/json"
	"fmt"

	"github.com/VCBorges/automatizai-challenge/internal/models"
)

const classifierSystemPrompt = `Você é um classificador de documentos empresariais/jurídicos brasileiros.

Classifique o texto fornecido em exatamente UM dos tipos abaixo:
- CONTRATO_SOCIAL
- CARTAO_CNPJ
- CERTIDAO_NEGATIVA

Regras:
- Responda APENAS com um objeto JSON que siga o JSON Schema fornecido.
- Use evidências (até 3 trechos curtos) copiadas diretamente do texto.
- Se o texto estiver incompleto ou ruim, escolha o tipo mais provável e reduza a confiança.`

var extractorSubjects = map[models.DocumentType]string{
	models.DocContratoSocial:   "CONTRATO SOCIAL (sociedade empresária limitada)",
	models.DocCartaoCNPJ:       "CARTÃO CNPJ (comprovante de inscrição e situação cadastral)",
	models.DocCertidaoNegativa: "CERTIDÃO NEGATIVA de débitos federais",
}

func extractorSystemPrompt(t models.DocumentType) string {
	return fmt.Sprintf(`Você é um assistente especializado em extrair dados estruturados de %s no Brasil.

Extraia os campos solicitados do texto fornecido.

Regras:
- Responda APENAS com um objeto JSON {"data", "confidence", "evidence", "notes"} que siga o JSON Schema fornecido.
- Se algum campo não existir no texto, use null (ou lista vazia, quando aplicável).
- NÃO invente valores. Se estiver incerto, reduza a confidence e descreva em notes.
- Para evidências, inclua trechos curtos (até ~200 caracteres) copiados do texto, por campo.
- Datas: converta para AAAA-MM-DD.`, extractorSubjects[t])
}

func classifierMessages(declared models.DocumentType, text string) []Message {
	return []Message{
		{Role: "system", Content: classifierSystemPrompt},
		{Role: "system", Content: "JSON Schema:\n" + mustJSON(ClassificationSchema())},
		{Role: "user", Content: fmt.Sprintf("Tipo esperado: %s\n\nTexto extraído (pode estar parcial):\n%s", declared, text)},
	}
}

func extractorMessages(t models.DocumentType, text string) []Message {
	return []Message{
		{Role: "system", Content: extractorSystemPrompt(t)},
		{Role: "system", Content: "JSON Schema:\n" + mustJSON(ExtractionSchema(t))},
		{Role: "user", Content: "Texto extraído do documento (pode estar parcial):\n" + text},
	}
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
