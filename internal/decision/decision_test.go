package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/VCBorges/automatizai-challenge/internal/models"
)

func finding(sev models.Severity) models.Inconsistency {
	return models.Inconsistency{Code: "x", Severity: sev}
}

func TestDecideEmptyIsApproved(t *testing.T) {
	assert.Equal(t, models.DecisionApproved, Decide(nil))
}

func TestDecideMonotonicity(t *testing.T) {
	clean := []models.Inconsistency{}
	assert.Equal(t, models.DecisionApproved, Decide(clean))

	warnings := append(clean, finding(models.SeverityWarn), finding(models.SeverityWarn), finding(models.SeverityWarn))
	assert.Equal(t, models.DecisionApproved, Decide(warnings), "WARN-only findings never reject")

	withBlocker := append(warnings, finding(models.SeverityBlocker))
	assert.Equal(t, models.DecisionRejected, Decide(withBlocker))

	blockerFirst := []models.Inconsistency{finding(models.SeverityBlocker), finding(models.SeverityWarn)}
	assert.Equal(t, models.DecisionRejected, Decide(blockerFirst))
}

func TestSummarize(t *testing.T) {
	s := Summarize([]models.Inconsistency{
		finding(models.SeverityBlocker),
		finding(models.SeverityWarn),
		finding(models.SeverityWarn),
	})
	assert.Equal(t, Summary{Blockers: 1, Warnings: 2}, s)
}
