// Package config holds the match rule configuration: which attributes exist,
// how they map between the wire representation and registry columns, and which
// search rules apply to them. Loaded once at startup and treated as immutable
// for the process lifetime; every component receives it explicitly.
package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	dErrors "ormatch/pkg/domain-errors"
)

// Rule names a comparison strategy for one attribute.
type Rule string

const (
	RuleExact    Rule = "exact"
	RuleDistance Rule = "distance"
	RuleSubstr   Rule = "substr"
	RuleSoundex  Rule = "soundex"
)

// SearchType selects which family of rule sets a search pass evaluates.
type SearchType string

const (
	SearchCanonical SearchType = "canonical"
	SearchPotential SearchType = "potential"
)

// ReferenceIDMethod selects how new reference ids are allocated.
type ReferenceIDMethod string

const (
	ReferenceIDUUID     ReferenceIDMethod = "uuid"
	ReferenceIDSequence ReferenceIDMethod = "sequence"
)

// Window bounds a substring comparison: Offset is 1-based (SQL substr
// convention), Length is the number of characters compared.
type Window struct {
	Offset int `yaml:"offset"`
	Length int `yaml:"length"`
}

// ExactSetting configures the exact rule for an attribute. In YAML it is
// either a boolean or the string "substr", which keeps the rule enabled but
// makes canonical searches compare the configured substring window instead.
type ExactSetting struct {
	Enabled  bool
	AsSubstr bool
}

func (e *ExactSetting) UnmarshalYAML(value *yaml.Node) error {
	var b bool
	if err := value.Decode(&b); err == nil {
		e.Enabled = b
		return nil
	}
	var s string
	if err := value.Decode(&s); err == nil {
		if s != string(RuleSubstr) {
			return fmt.Errorf("exact setting must be a boolean or %q, got %q", RuleSubstr, s)
		}
		e.Enabled = true
		e.AsSubstr = true
		return nil
	}
	return fmt.Errorf("exact setting must be a boolean or %q", RuleSubstr)
}

// SearchConfig enables rules for one attribute. A zero Distance or nil Substr
// means the rule is not configured.
type SearchConfig struct {
	Exact    ExactSetting `yaml:"exact"`
	Distance int          `yaml:"distance"`
	Substr   *Window      `yaml:"substr"`
	Soundex  bool         `yaml:"soundex"`
}

// Supports reports whether the attribute is configured for rule.
func (s SearchConfig) Supports(rule Rule) bool {
	switch rule {
	case RuleExact:
		return s.Exact.Enabled
	case RuleDistance:
		return s.Distance > 0
	case RuleSubstr:
		return s.Substr != nil
	case RuleSoundex:
		return s.Soundex
	}
	return false
}

// Crosscheck names an alternate attribute whose match can excuse a mismatch on
// the owning attribute. A non-empty SOR pins the alternate to rows submitted
// by that system of record.
type Crosscheck struct {
	Attribute string `yaml:"attribute"`
	SOR       string `yaml:"sor"`
}

// Attribute maps a logical attribute between the wire format and the registry.
type Attribute struct {
	// Name is the configuration label, filled in from the map key.
	Name string `yaml:"-"`

	// Wire is the wire-format path: a flat field name, the aliases "sor" and
	// "identifier:sor", or "<kind>:<tag>" addressing a repeated group.
	Wire string `yaml:"attribute"`

	// Group selects an element of a grouping-discriminated repeated structure
	// (e.g. the "official" name). Empty for type-discriminated groups.
	Group string `yaml:"group"`

	// Column is the registry column this attribute is stored in.
	Column string `yaml:"column"`

	// CaseSensitive disables case folding during comparison.
	CaseSensitive bool `yaml:"case_sensitive"`

	// Alphanum strips non-alphanumeric characters before comparison.
	Alphanum bool `yaml:"alphanum"`

	Search SearchConfig `yaml:"search"`

	// Invalidates downgrades an otherwise canonical candidate when the stored
	// value contradicts the requested one.
	Invalidates bool `yaml:"invalidates"`

	Crosscheck []Crosscheck `yaml:"crosscheck"`

	// NullEquivalents keeps values with no letter and no non-zero digit
	// (e.g. "---", "000") instead of treating them as absent.
	NullEquivalents bool `yaml:"null_equivalents"`
}

// Fold reports whether comparisons case-fold this attribute.
func (a *Attribute) Fold() bool { return !a.CaseSensitive }

// CanonicalRule is the rule canonical searches use for this attribute: exact,
// unless the attribute is configured exact => substr.
func (a *Attribute) CanonicalRule() Rule {
	if a.Search.Exact.AsSubstr {
		return RuleSubstr
	}
	return RuleExact
}

// RuleSet is one labeled group of attributes evaluated together; all members
// must match for a row to qualify.
type RuleSet struct {
	Name string `yaml:"name"`

	// Attributes lists the members of a canonical set (rule implied).
	Attributes []string `yaml:"attributes"`

	// Rules maps attribute to rule for a potential set.
	Rules map[string]Rule `yaml:"rules"`
}

// SOR holds per-system-of-record settings.
type SOR struct {
	// Resolution set to "interactive" returns candidate lists for ambiguous
	// submissions instead of queueing them.
	Resolution string `yaml:"resolution"`
}

// Config is the complete match configuration.
type Config struct {
	ReferenceID ReferenceIDMethod     `yaml:"reference_id"`
	Attributes  map[string]*Attribute `yaml:"attributes"`
	Canonical   []RuleSet             `yaml:"canonical"`
	Potential   []RuleSet             `yaml:"potential"`
	SORs        map[string]SOR        `yaml:"sors"`

	byColumn map[string]*Attribute
	columns  []string
}

// Load reads and validates a YAML rule configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read match config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML rule configuration document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse match config: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// finish fills derived lookups and validates referential integrity.
func (c *Config) finish() error {
	if c.ReferenceID == "" {
		c.ReferenceID = ReferenceIDUUID
	}
	if c.ReferenceID != ReferenceIDUUID && c.ReferenceID != ReferenceIDSequence {
		return fmt.Errorf("unknown reference_id method %q", c.ReferenceID)
	}
	if len(c.Attributes) == 0 {
		return fmt.Errorf("no attributes configured")
	}

	c.byColumn = make(map[string]*Attribute, len(c.Attributes))
	for name, attr := range c.Attributes {
		attr.Name = name
		if attr.Wire == "" {
			return fmt.Errorf("attribute %q: no wire attribute set", name)
		}
		if attr.Column == "" {
			return fmt.Errorf("attribute %q: no column set", name)
		}
		if attr.Search.Substr != nil && (attr.Search.Substr.Offset < 1 || attr.Search.Substr.Length < 1) {
			return fmt.Errorf("attribute %q: substr window needs offset >= 1 and length >= 1", name)
		}
		if attr.Search.Exact.AsSubstr && attr.Search.Substr == nil {
			return fmt.Errorf("attribute %q: exact => substr requires a substr window", name)
		}
		if attr.Search.Distance < 0 {
			return fmt.Errorf("attribute %q: negative distance threshold", name)
		}
		if prev, dup := c.byColumn[attr.Column]; dup {
			return fmt.Errorf("attributes %q and %q share column %q", prev.Name, name, attr.Column)
		}
		c.byColumn[attr.Column] = attr
		for _, cc := range attr.Crosscheck {
			if _, ok := c.Attributes[cc.Attribute]; !ok {
				return fmt.Errorf("attribute %q: crosscheck references unknown attribute %q", name, cc.Attribute)
			}
		}
	}

	for _, set := range c.Canonical {
		if len(set.Attributes) == 0 {
			return fmt.Errorf("canonical rule set %q lists no attributes", set.Name)
		}
		for _, a := range set.Attributes {
			if _, ok := c.Attributes[a]; !ok {
				return fmt.Errorf("canonical rule set %q references unknown attribute %q", set.Name, a)
			}
		}
	}
	for _, set := range c.Potential {
		if len(set.Rules) == 0 {
			return fmt.Errorf("potential rule set %q lists no rules", set.Name)
		}
		for a, rule := range set.Rules {
			if _, ok := c.Attributes[a]; !ok {
				return fmt.Errorf("potential rule set %q references unknown attribute %q", set.Name, a)
			}
			switch rule {
			case RuleExact, RuleDistance, RuleSubstr, RuleSoundex:
			default:
				return fmt.Errorf("potential rule set %q: unknown rule %q for attribute %q", set.Name, rule, a)
			}
		}
	}

	// Deterministic column ordering for dynamic SQL; sor/sorid are stored as
	// dedicated row fields, not attribute columns.
	for _, attr := range c.orderedAttributes() {
		if attr.Column == "sor" || attr.Column == "sorid" {
			continue
		}
		c.columns = append(c.columns, attr.Column)
	}

	return nil
}

// Attribute returns the configuration for a logical attribute, or a
// configuration error when it does not exist.
func (c *Config) Attribute(name string) (*Attribute, error) {
	attr, ok := c.Attributes[name]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInvalidConfiguration, "attribute %q is not configured", name)
	}
	return attr, nil
}

// ByColumn returns the attribute stored in the given registry column.
func (c *Config) ByColumn(column string) (*Attribute, bool) {
	attr, ok := c.byColumn[column]
	return attr, ok
}

// AttributeColumns lists configured attribute columns (excluding sor/sorid)
// in a stable order for dynamic SQL.
func (c *Config) AttributeColumns() []string {
	return c.columns
}

// RuleSets returns the ordered rule sets for a search type.
func (c *Config) RuleSets(t SearchType) []RuleSet {
	if t == SearchCanonical {
		return c.Canonical
	}
	return c.Potential
}

// Interactive reports whether the SOR is configured for interactive
// resolution of ambiguous matches.
func (c *Config) Interactive(sor string) bool {
	s, ok := c.SORs[sor]
	return ok && s.Resolution == "interactive"
}

func (c *Config) orderedAttributes() []*Attribute {
	names := make([]string, 0, len(c.Attributes))
	for name := range c.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	attrs := make([]*Attribute, 0, len(names))
	for _, name := range names {
		attrs = append(attrs, c.Attributes[name])
	}
	return attrs
}
