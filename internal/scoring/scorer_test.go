package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hunter-cli/internal/config"
	"github.com/sells-group/hunter-cli/internal/model"
)

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		TopPercent:       25,
		CapitalThreshold: 100000,
		Tiers:            config.TierThresholds{Hot: 85, Qualified: 70, Potential: 55},
	}
}

func TestPassOne(t *testing.T) {
	tests := []struct {
		name        string
		lead        model.CleanLead
		want        int
		wantFactors []string
	}{
		{
			name: "base only",
			lead: model.CleanLead{},
			want: 50,
		},
		{
			name: "all positive signals",
			lead: model.CleanLead{
				PriorityActivity: true,
				Phones:           []string{"19999990000"},
				OwnEmailDomain:   true,
				Capital:          250000,
			},
			want:        90,
			wantFactors: []string{"priority_activity", "usable_phone", "own_email_domain", "capital"},
		},
		{
			name: "accountant penalty",
			lead: model.CleanLead{
				AccountantLike: true,
				Phones:         []string{"1932321111"},
			},
			want:        30,
			wantFactors: []string{"accountant_like"},
		},
		{
			name: "capital below threshold",
			lead: model.CleanLead{Capital: 99999},
			want: 50,
		},
	}

	s := NewScorer(testScoringConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, factors := s.PassOne(tt.lead)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 50, factors["base"])
			for _, f := range tt.wantFactors {
				assert.Contains(t, factors, f)
			}
		})
	}
}

func TestPassTwo(t *testing.T) {
	s := NewScorer(testScoringConfig())

	lead := model.CleanLead{
		PriorityActivity: true,
		OwnEmailDomain:   true,
		HasMobile:        true,
	}
	enrichment := &model.Enrichment{
		TechScore: 25,
		Social:    model.SocialProfiles{WhatsAppLink: "https://wa.me/5519999990000"},
	}

	got, factors := s.PassTwo(lead, enrichment)
	assert.Equal(t, 100, got)
	assert.Equal(t, 20, factors["tech_score"])
	assert.Equal(t, 15, factors["whatsapp_probable"])

	// Without enrichment the presence factors disappear.
	got, factors = s.PassTwo(lead, nil)
	assert.Equal(t, 75, got)
	assert.NotContains(t, factors, "tech_score")
	assert.NotContains(t, factors, "whatsapp_probable")
}

func TestPassTwoPenalties(t *testing.T) {
	s := NewScorer(testScoringConfig())

	lead := model.CleanLead{
		AccountantLike: true,
		RepeatedPhone:  true,
	}
	got, _ := s.PassTwo(lead, nil)
	assert.Equal(t, 5, got)
}

func TestScoreClamped(t *testing.T) {
	s := NewScorer(testScoringConfig())

	// Low tech, both penalties cannot go below zero.
	lead := model.CleanLead{AccountantLike: true, RepeatedPhone: true}
	got, _ := s.PassTwo(lead, &model.Enrichment{TechScore: 0})
	assert.GreaterOrEqual(t, got, 0)

	// All positive signals cannot exceed 100.
	rich := model.CleanLead{PriorityActivity: true, OwnEmailDomain: true, HasMobile: true}
	got, _ = s.PassTwo(rich, &model.Enrichment{
		TechScore: 50,
		Social:    model.SocialProfiles{WhatsAppLink: "https://wa.me/1"},
	})
	assert.Equal(t, 100, got)
}

func TestTier(t *testing.T) {
	s := NewScorer(testScoringConfig())

	tests := []struct {
		score int
		want  string
	}{
		{100, "hot"},
		{85, "hot"},
		{84, "qualified"},
		{70, "qualified"},
		{69, "potential"},
		{55, "potential"},
		{54, "cold"},
		{0, "cold"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Tier(tt.score), "score %d", tt.score)
	}
}

func TestSelectTopPercent(t *testing.T) {
	s := NewScorer(testScoringConfig())

	leads := []model.CleanLead{
		{ExternalID: "a", ScoreV1: 90},
		{ExternalID: "b", ScoreV1: 80},
		{ExternalID: "c", ScoreV1: 70},
		{ExternalID: "d", ScoreV1: 60},
	}

	selected := s.SelectTopPercent(leads)
	require.Len(t, selected, 1)
	assert.True(t, selected["a"])
}

func TestSelectTopPercentTieInclusive(t *testing.T) {
	s := NewScorer(testScoringConfig())

	// Four leads share the cutoff score; all of them are selected even
	// though the nominal 25% slot holds two.
	leads := []model.CleanLead{
		{ExternalID: "a", ScoreV1: 90},
		{ExternalID: "b", ScoreV1: 80},
		{ExternalID: "c", ScoreV1: 80},
		{ExternalID: "d", ScoreV1: 80},
		{ExternalID: "e", ScoreV1: 80},
		{ExternalID: "f", ScoreV1: 60},
		{ExternalID: "g", ScoreV1: 50},
		{ExternalID: "h", ScoreV1: 40},
	}

	selected := s.SelectTopPercent(leads)
	assert.Len(t, selected, 5)
	assert.True(t, selected["a"])
	assert.True(t, selected["e"])
	assert.False(t, selected["f"])
}

func TestSelectTopPercentSmallInput(t *testing.T) {
	s := NewScorer(testScoringConfig())

	selected := s.SelectTopPercent([]model.CleanLead{{ExternalID: "only", ScoreV1: 10}})
	assert.Len(t, selected, 1)

	assert.Empty(t, s.SelectTopPercent(nil))
}
