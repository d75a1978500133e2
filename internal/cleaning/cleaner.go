package cleaning

import (
	"regexp"
	"strings"

	"github.com/sells-group/hunter-cli/internal/config"
	"github.com/sells-group/hunter-cli/internal/model"
)

// Names and emails matching this pattern usually belong to the accounting
// office that registered the company, not to the company itself.
var accountantPattern = regexp.MustCompile(`contabil|contabilidade|escritorio|assessoria|bpo`)

// Stats summarizes one cleaning batch.
type Stats struct {
	Input              int `json:"input"`
	Output             int `json:"output"`
	RemovedSmallEntity int `json:"removed_small_entity"`
	RemovedOther       int `json:"removed_other"`
}

// Cleaner normalizes and flags raw registry records. Cleaning is
// deterministic: the same batch always produces the same output.
type Cleaner struct {
	cfg      config.CleaningConfig
	priority map[string]bool
	generic  map[string]bool
}

// NewCleaner creates a Cleaner from configuration.
func NewCleaner(cfg config.CleaningConfig) *Cleaner {
	priority := make(map[string]bool, len(cfg.PriorityActivities))
	for _, p := range cfg.PriorityActivities {
		priority[p] = true
	}
	generic := make(map[string]bool, len(cfg.GenericEmailDomains))
	for _, d := range cfg.GenericEmailDomains {
		generic[strings.ToLower(d)] = true
	}
	return &Cleaner{cfg: cfg, priority: priority, generic: generic}
}

// CleanBatch normalizes a batch of registry records into CleanLeads.
// Duplicates and unusable records are dropped; small entities are dropped
// unless IncludeSmallEntities is set. Phone repetition is computed across
// the whole batch, so the flag depends on batch context.
func (c *Cleaner) CleanBatch(records []model.RegistryRecord) ([]model.CleanLead, Stats) {
	stats := Stats{Input: len(records)}

	seen := make(map[string]bool, len(records))
	phoneCounts := make(map[string]int)
	leads := make([]model.CleanLead, 0, len(records))

	for _, rec := range records {
		if rec.ExternalID == "" || (rec.LegalName == "" && rec.TradeName == "") {
			stats.RemovedOther++
			continue
		}
		if seen[rec.ExternalID] {
			stats.RemovedOther++
			continue
		}
		seen[rec.ExternalID] = true

		lead := c.clean(rec)
		if lead.SmallEntity && !c.cfg.IncludeSmallEntities {
			stats.RemovedSmallEntity++
			continue
		}

		for _, p := range lead.Phones {
			phoneCounts[p]++
		}
		leads = append(leads, lead)
	}

	threshold := c.cfg.PhoneRepeatThreshold
	if threshold <= 0 {
		threshold = 5
	}
	for i := range leads {
		for _, p := range leads[i].Phones {
			if phoneCounts[p] >= threshold {
				leads[i].RepeatedPhone = true
				break
			}
		}
		leads[i].ContactQuality = contactQuality(leads[i])
	}

	stats.Output = len(leads)
	return leads, stats
}

func (c *Cleaner) clean(rec model.RegistryRecord) model.CleanLead {
	lead := model.CleanLead{
		ExternalID:   rec.ExternalID,
		Name:         NormalizeName(pickName(rec)),
		TradeName:    NormalizeName(rec.TradeName),
		ActivityCode: digitsOnly(rec.ActivityCode),
		City:         NormalizeName(rec.City),
		State:        strings.ToUpper(strings.TrimSpace(rec.State)),
		LegalNature:  rec.LegalNature,
		SizeClass:    rec.SizeClass,
		Capital:      rec.Capital,
	}

	for _, raw := range []string{rec.Phone1, rec.Phone2} {
		if p, ok := NormalizePhone(raw); ok {
			lead.Phones = appendUnique(lead.Phones, p)
			if IsMobile(p) {
				lead.HasMobile = true
			}
		}
	}

	email := strings.ToLower(strings.TrimSpace(rec.Email))
	if at := strings.LastIndex(email, "@"); at > 0 && at < len(email)-1 {
		lead.Email = email
		lead.EmailDomain = email[at+1:]
		lead.OwnEmailDomain = !c.generic[lead.EmailDomain]
	}

	if len(lead.ActivityCode) >= 4 {
		lead.PriorityActivity = c.priority[lead.ActivityCode[:4]]
	}

	haystack := foldForMatch(rec.LegalName + " " + rec.TradeName + " " + email)
	lead.AccountantLike = accountantPattern.MatchString(haystack)

	lead.SmallEntity = isSmallEntity(rec)

	return lead
}

func contactQuality(lead model.CleanLead) model.ContactQuality {
	switch {
	case lead.AccountantLike:
		return model.ContactAccountantLike
	case lead.RepeatedPhone:
		return model.ContactSuspicious
	default:
		return model.ContactOK
	}
}

func isSmallEntity(rec model.RegistryRecord) bool {
	size := foldForMatch(rec.SizeClass)
	if size == "mei" || strings.Contains(size, "microempreendedor") {
		return true
	}
	return strings.Contains(foldForMatch(rec.LegalNature), "empresario individual")
}

func pickName(rec model.RegistryRecord) string {
	if rec.TradeName != "" {
		return rec.TradeName
	}
	return rec.LegalName
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func appendUnique(phones []string, p string) []string {
	for _, existing := range phones {
		if existing == p {
			return phones
		}
	}
	return append(phones, p)
}
