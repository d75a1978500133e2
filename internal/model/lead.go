package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// SearchSpec describes one registry extraction: which entities to pull and
// how many. The zero value of a filter field means "no filter".
type SearchSpec struct {
	State            string   `json:"state,omitempty" yaml:"state"`
	Municipality     string   `json:"municipality,omitempty" yaml:"municipality"`
	ActivityPrefixes []string `json:"activity_prefixes,omitempty" yaml:"activity_prefixes"`
	Status           string   `json:"status,omitempty" yaml:"status"`
	LegalNatures     []string `json:"legal_natures,omitempty" yaml:"legal_natures"`
	MaxRecords       int      `json:"max_records,omitempty" yaml:"max_records"`
	PageSize         int      `json:"page_size,omitempty" yaml:"page_size"`
}

// Fingerprint returns a deterministic hash of the spec. Two specs that
// describe the same logical query hash identically regardless of field or
// slice ordering: string fields are trimmed and upper/lower-cased into
// canonical form and slices are sorted before hashing.
func (s SearchSpec) Fingerprint() string {
	canon := map[string]any{}
	if v := strings.ToUpper(strings.TrimSpace(s.State)); v != "" {
		canon["state"] = v
	}
	if v := strings.ToLower(strings.TrimSpace(s.Municipality)); v != "" {
		canon["municipality"] = v
	}
	if v := strings.ToLower(strings.TrimSpace(s.Status)); v != "" {
		canon["status"] = v
	}
	if len(s.ActivityPrefixes) > 0 {
		canon["activity_prefixes"] = sortedCopy(s.ActivityPrefixes)
	}
	if len(s.LegalNatures) > 0 {
		canon["legal_natures"] = sortedCopy(s.LegalNatures)
	}
	if s.MaxRecords > 0 {
		canon["max_records"] = s.MaxRecords
	}
	if s.PageSize > 0 {
		canon["page_size"] = s.PageSize
	}

	// json.Marshal emits map keys in sorted order, which makes the
	// serialization stable.
	data, _ := json.Marshal(canon)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedCopy(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// RegistryRecord is one business entity as returned by the registry search
// capability, already mapped out of the provider's wire format.
type RegistryRecord struct {
	ExternalID   string  `json:"external_id"`
	LegalName    string  `json:"legal_name"`
	TradeName    string  `json:"trade_name,omitempty"`
	ActivityCode string  `json:"activity_code,omitempty"`
	ActivityDesc string  `json:"activity_desc,omitempty"`
	Email        string  `json:"email,omitempty"`
	Phone1       string  `json:"phone1,omitempty"`
	Phone2       string  `json:"phone2,omitempty"`
	City         string  `json:"city,omitempty"`
	State        string  `json:"state,omitempty"`
	SizeClass    string  `json:"size_class,omitempty"`
	LegalNature  string  `json:"legal_nature,omitempty"`
	Capital      float64 `json:"capital,omitempty"`
	Status       string  `json:"status,omitempty"`
	OpenedAt     string  `json:"opened_at,omitempty"`
}

// RawLead is a staged registry record. Immutable once written; keyed by
// (RunID, ExternalID) so repeated staging of the same extraction is a no-op.
type RawLead struct {
	RunID      string          `json:"run_id"`
	ExternalID string          `json:"external_id"`
	Source     string          `json:"source"`
	Payload    json.RawMessage `json:"payload"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

// ContactQuality classifies how trustworthy a lead's contact data looks.
type ContactQuality string

const (
	ContactOK             ContactQuality = "ok"
	ContactSuspicious     ContactQuality = "suspicious"
	ContactAccountantLike ContactQuality = "accountant_like"
)

// CleanLead is the normalized, flagged form of a RawLead. It is a
// deterministic function of the raw record plus batch-level context
// (phone repetition counts).
type CleanLead struct {
	ExternalID   string   `json:"external_id"`
	Name         string   `json:"name"`
	TradeName    string   `json:"trade_name,omitempty"`
	ActivityCode string   `json:"activity_code,omitempty"`
	Email        string   `json:"email,omitempty"`
	EmailDomain  string   `json:"email_domain,omitempty"`
	Phones       []string `json:"phones,omitempty"`
	HasMobile    bool     `json:"has_mobile"`
	City         string   `json:"city,omitempty"`
	State        string   `json:"state,omitempty"`
	LegalNature  string   `json:"legal_nature,omitempty"`
	SizeClass    string   `json:"size_class,omitempty"`
	Capital      float64  `json:"capital,omitempty"`

	AccountantLike   bool `json:"accountant_like"`
	RepeatedPhone    bool `json:"repeated_phone"`
	SmallEntity      bool `json:"small_entity"`
	OwnEmailDomain   bool `json:"own_email_domain"`
	PriorityActivity bool `json:"priority_activity"`

	ContactQuality ContactQuality `json:"contact_quality"`

	ScoreV1    int    `json:"score_v1"`
	ScoreV2    int    `json:"score_v2"`
	FinalScore int    `json:"final_score"`
	Tier       string `json:"tier,omitempty"`
}

// Locality renders the lead's city/state for display and provider lookups.
func (l CleanLead) Locality() string {
	switch {
	case l.City != "" && l.State != "":
		return l.City + ", " + l.State
	case l.City != "":
		return l.City
	default:
		return l.State
	}
}

// ScoreRecord is one scoring pass outcome for a lead. Records are append
// only: pass 2 supersedes pass 1 for ranking but never deletes it.
type ScoreRecord struct {
	LeadID    string         `json:"lead_id"`
	Pass      int            `json:"pass"`
	Value     int            `json:"value"`
	Factors   map[string]int `json:"factors,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// CacheEntry is a cached extraction payload keyed by query fingerprint.
type CacheEntry struct {
	Fingerprint string          `json:"fingerprint"`
	Payload     json.RawMessage `json:"payload"`
	ResultCount int             `json:"result_count"`
	FetchedAt   time.Time       `json:"fetched_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}
