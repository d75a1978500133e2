package model

import "time"

// EnrichState is the per-lead enrichment state machine:
// pending -> in_flight -> {enriched, timed_out, failed}.
type EnrichState string

const (
	EnrichPending  EnrichState = "pending"
	EnrichInFlight EnrichState = "in_flight"
	EnrichEnriched EnrichState = "enriched"
	EnrichTimedOut EnrichState = "timed_out"
	EnrichFailed   EnrichState = "failed"
)

// Terminal reports whether the state ends a lead's enrichment attempt.
func (s EnrichState) Terminal() bool {
	switch s {
	case EnrichEnriched, EnrichTimedOut, EnrichFailed:
		return true
	}
	return false
}

// SocialProfiles holds discovered web-presence links for a business.
type SocialProfiles struct {
	Instagram    string `json:"instagram,omitempty"`
	LinkedIn     string `json:"linkedin,omitempty"`
	WhatsAppLink string `json:"whatsapp_link,omitempty"`
}

// Enrichment is one vault entry: web-presence and technology signals for a
// business, keyed by its registry identifier and reusable across runs.
// Attempts counts every upsert against the identifier so the history
// linkage survives overwrites.
type Enrichment struct {
	BusinessID     string         `json:"business_id"`
	SiteURL        string         `json:"site_url,omitempty"`
	Social         SocialProfiles `json:"social"`
	Technologies   []string       `json:"technologies,omitempty"`
	TechScore      int            `json:"tech_score"`
	HasContactPage bool           `json:"has_contact_page"`
	HasForm        bool           `json:"has_form"`
	FetchedAt      time.Time      `json:"fetched_at"`
	Attempts       int            `json:"attempts"`
	LastStatus     EnrichState    `json:"last_status"`
	Notes          string         `json:"notes,omitempty"`
}

// Fresh reports whether the entry is recent enough to short-circuit a new
// provider call under the given freshness policy.
func (e Enrichment) Fresh(ttl time.Duration, now time.Time) bool {
	if e.FetchedAt.IsZero() {
		return false
	}
	return now.Sub(e.FetchedAt) < ttl
}
