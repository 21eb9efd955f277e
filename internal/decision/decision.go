// Package decision reduces a job's findings to its verdict.
package decision

import "github.com/VCBorges/automatizai-challenge/internal/models"

// Decide returns REPROVADO when any finding is a BLOCKER and APROVADO
// otherwise. WARN findings never block approval, however many there are.
func Decide(findings []models.Inconsistency) models.Decision {
	for _, f := range findings {
		if f.Severity == models.SeverityBlocker {
			return models.DecisionRejected
		}
	}
	return models.DecisionApproved
}

// Summary counts findings by severity.
type Summary struct {
	Blockers int `json:"blockers"`
	Warnings int `json:"warnings"`
}

func Summarize(findings []models.Inconsistency) Summary {
	var s Summary
	for _, f := range findings {
		switch f.Severity {
		case models.SeverityBlocker:
			s.Blockers++
		case models.SeverityWarn:
			s.Warnings++
		}
	}
	return s
}
