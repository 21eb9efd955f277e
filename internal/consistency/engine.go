// Package consistency cross-checks the fields extracted from the documents of
// one job and reports every disagreement or policy violation it finds.
package consistency

import (
	"sort"
	"time"

	"github.com/VCBorges/automatizai-challenge/internal/models"
)

// Rule evaluates one check over the extracted documents of a job.
type Rule struct {
	Code  string
	Check func(ev *evaluation) []models.Inconsistency
}

// Rules is the ordered rule table. Rules are independent; the order only
// decides the order of the findings in the output.
var Rules = []Rule{
	{Code: models.CodeCNPJMismatch, Check: checkCNPJ},
	{Code: models.CodeRazaoSocialMismatch, Check: checkRazaoSocial},
	{Code: models.CodeEnderecoMismatch, Check: checkEndereco},
	{Code: models.CodeCertificateExpired, Check: checkCertificateExpired},
	{Code: models.CodeDocumentTooOld, Check: checkDocumentAge},
	{Code: models.CodeSocioCPFMismatch, Check: checkSocioCPF},
}

// MaxDocumentAgeMonths is how old an issuance date may be relative to the
// evaluation date.
const MaxDocumentAgeMonths = 6

type evaluation struct {
	docs []facts
	// on is the evaluation date, the job's creation date.
	on models.Date
}

// Evaluate runs the rule table over the successfully extracted documents.
// evaluatedAt is the job's created_at so that results are reproducible.
func Evaluate(results []models.ExtractionResult, evaluatedAt time.Time) []models.Inconsistency {
	ev := &evaluation{on: models.DateOf(evaluatedAt)}
	for _, r := range results {
		if !r.Succeeded() {
			continue
		}
		ev.docs = append(ev.docs, factsOf(r))
	}
	sort.SliceStable(ev.docs, func(i, j int) bool {
		return ev.docs[i].docType.Order() < ev.docs[j].docType.Order()
	})

	findings := make([]models.Inconsistency, 0)
	for _, rule := range Rules {
		findings = append(findings, rule.Check(ev)...)
	}
	for i := range findings {
		findings[i].Position = i
	}
	return findings
}
