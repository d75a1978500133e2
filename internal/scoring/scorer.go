package scoring

import (
	"sort"

	"github.com/sells-group/hunter-cli/internal/config"
	"github.com/sells-group/hunter-cli/internal/model"
)

const baseScore = 50

// Scorer ranks cleaned leads. Pass 1 uses only registry-derived signals so
// it can run before any enrichment. Pass 2 re-scores leads that went through
// enrichment using web presence signals.
type Scorer struct {
	cfg config.ScoringConfig
}

// NewScorer creates a Scorer. The tier thresholds must already be validated.
func NewScorer(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// PassOne computes the registry-only score for a lead. The factor map records
// each contribution so the score can be explained later.
func (s *Scorer) PassOne(lead model.CleanLead) (int, map[string]int) {
	factors := map[string]int{"base": baseScore}

	if lead.PriorityActivity {
		factors["priority_activity"] = 15
	}
	if len(lead.Phones) > 0 {
		factors["usable_phone"] = 10
	}
	if lead.OwnEmailDomain {
		factors["own_email_domain"] = 10
	}
	if lead.Capital >= s.capitalThreshold() {
		factors["capital"] = 5
	}
	if lead.AccountantLike {
		factors["accountant_like"] = -30
	}

	return clamp(sum(factors)), factors
}

// PassTwo computes the enriched score. A nil enrichment scores the lead as if
// nothing was found on the web, which still differs from pass 1 because the
// capital and phone factors are replaced by presence signals.
func (s *Scorer) PassTwo(lead model.CleanLead, enrichment *model.Enrichment) (int, map[string]int) {
	factors := map[string]int{"base": baseScore}

	if enrichment != nil && enrichment.TechScore >= 20 {
		factors["tech_score"] = 20
	}
	if whatsappProbable(lead, enrichment) {
		factors["whatsapp_probable"] = 15
	}
	if lead.PriorityActivity {
		factors["priority_activity"] = 15
	}
	if lead.OwnEmailDomain {
		factors["own_email_domain"] = 10
	}
	if lead.AccountantLike {
		factors["accountant_like"] = -30
	}
	if lead.RepeatedPhone {
		factors["repeated_phone"] = -15
	}

	return clamp(sum(factors)), factors
}

// Tier maps a final score to its tier label.
func (s *Scorer) Tier(score int) string {
	t := s.cfg.Tiers
	switch {
	case score >= t.Hot:
		return "hot"
	case score >= t.Qualified:
		return "qualified"
	case score >= t.Potential:
		return "potential"
	default:
		return "cold"
	}
}

// SelectTopPercent returns the lead IDs in the top percentile by pass 1
// score. Selection is tie inclusive: every lead scoring at least as much as
// the lead at the cutoff position is selected, so the result can exceed the
// nominal percentile size. At least one lead is always selected from a
// non-empty input.
func (s *Scorer) SelectTopPercent(leads []model.CleanLead) map[string]bool {
	if len(leads) == 0 {
		return map[string]bool{}
	}

	pct := s.cfg.TopPercent
	if pct <= 0 || pct > 100 {
		pct = 25
	}

	sorted := make([]model.CleanLead, len(leads))
	copy(sorted, leads)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ScoreV1 > sorted[j].ScoreV1
	})

	n := len(sorted) * pct / 100
	if n < 1 {
		n = 1
	}
	cutoff := sorted[n-1].ScoreV1

	selected := make(map[string]bool, n)
	for _, lead := range sorted {
		if lead.ScoreV1 < cutoff {
			break
		}
		selected[lead.ExternalID] = true
	}
	return selected
}

func (s *Scorer) capitalThreshold() float64 {
	if s.cfg.CapitalThreshold > 0 {
		return s.cfg.CapitalThreshold
	}
	return 100000
}

// whatsappProbable holds when the lead has a mobile number and enrichment
// found a WhatsApp link.
func whatsappProbable(lead model.CleanLead, enrichment *model.Enrichment) bool {
	return lead.HasMobile && enrichment != nil && enrichment.Social.WhatsAppLink != ""
}

func sum(factors map[string]int) int {
	total := 0
	for _, v := range factors {
		total += v
	}
	return total
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
