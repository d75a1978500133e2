package export

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/hunter-cli/internal/model"
)

// Segment is a named filter over export rows. Segments select which leads
// land in a given output file. Columns, when set, narrows the file to that
// subset of the base column set; an empty list keeps the full layout.
type Segment struct {
	Name                  string   `yaml:"name"`
	Tiers                 []string `yaml:"tiers,omitempty"`
	MinScore              int      `yaml:"min_score,omitempty"`
	RequireContactable    bool     `yaml:"require_contactable,omitempty"`
	ExcludeIntermediaries bool     `yaml:"exclude_intermediaries,omitempty"`
	RequireSite           bool     `yaml:"require_site,omitempty"`
	RequireTech           bool     `yaml:"require_tech,omitempty"`
	Columns               []string `yaml:"columns,omitempty"`
}

// Builtins returns the standard segments shipped with the pipeline.
func Builtins() []Segment {
	return []Segment{
		{Name: "hot", Tiers: []string{"hot"}},
		{Name: "hot_contactable", Tiers: []string{"hot"}, RequireContactable: true},
		{Name: "no_intermediaries", ExcludeIntermediaries: true},
		{Name: "site_and_tech", RequireSite: true, RequireTech: true},
	}
}

// Match reports whether the row belongs to the segment.
func (s Segment) Match(row model.ExportRow) bool {
	if len(s.Tiers) > 0 && !contains(s.Tiers, row.Lead.Tier) {
		return false
	}
	if row.Lead.FinalScore < s.MinScore {
		return false
	}
	if s.RequireContactable && !contactable(row.Lead) {
		return false
	}
	if s.ExcludeIntermediaries && row.Lead.AccountantLike {
		return false
	}
	if s.RequireSite && !row.HasSite() {
		return false
	}
	if s.RequireTech && (row.Enrichment == nil || len(row.Enrichment.Technologies) == 0) {
		return false
	}
	return true
}

// segmentsFile is the on-disk layout of a custom segments file.
type segmentsFile struct {
	Segments []Segment `yaml:"segments"`
}

// LoadSegments reads extra segment definitions from a YAML file.
func LoadSegments(path string) ([]Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "export: read segments file %s", path)
	}

	var f segmentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "export: parse segments file %s", path)
	}

	for i, seg := range f.Segments {
		if seg.Name == "" {
			return nil, eris.Errorf("export: segment %d has no name", i)
		}
		if err := validateColumns(seg.Columns); err != nil {
			return nil, eris.Wrapf(err, "export: segment %s", seg.Name)
		}
	}
	return f.Segments, nil
}

// contactable holds when the lead has at least one contact channel and its
// contact data is not flagged.
func contactable(lead model.CleanLead) bool {
	if lead.ContactQuality != model.ContactOK {
		return false
	}
	return len(lead.Phones) > 0 || lead.Email != ""
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
