package dedup

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultSourcePriority is assigned to any source the rules file does not
// rank. High enough that every ranked source beats it.
const defaultSourcePriority = 99

// Rules is the declarative matching configuration. Matching behaviour is
// data, not code: adding an account or feed means editing the rules file,
// not the engine.
type Rules struct {
	// DefaultPriority applies to sources missing from Priorities.
	DefaultPriority int `yaml:"default_priority"`
	// Priorities ranks sources; a lower number wins preferred status.
	Priorities map[string]int `yaml:"priorities"`

	Supersessions            []Supersession    `yaml:"supersessions"`
	Declined                 []DeclinedMarker  `yaml:"declined"`
	InternalDuplicateSources []string          `yaml:"internal_duplicate_sources"`
	CrossSource              []CrossSourceRule `yaml:"cross_source"`
}

// Supersession declares that one source's rows for an account are fully
// replaced by the other sources' coverage of the same account.
type Supersession struct {
	Institution      string `yaml:"institution"`
	AccountRef       string `yaml:"account_ref"`
	SupersededSource string `yaml:"superseded_source"`
}

// DeclinedMarker identifies rows a source flags as never-settled: the
// payload key holds a non-empty value when the transaction was declined.
type DeclinedMarker struct {
	Source     string `yaml:"source"`
	PayloadKey string `yaml:"payload_key"`
}

// SourcePair names the two sources a cross-source rule matches between.
type SourcePair struct {
	A string `yaml:"a"`
	B string `yaml:"b"`
}

// CrossSourceRule matches rows between two feeds of the same account by
// date, amount, and currency.
type CrossSourceRule struct {
	Institution string       `yaml:"institution"`
	AccountRef  string       `yaml:"account_ref"`
	Pairs       []SourcePair `yaml:"pairs"`
	// DateToleranceDays allows posting dates to differ by up to this many
	// days, for feeds that settle on different calendars. Zero means exact.
	DateToleranceDays int `yaml:"date_tolerance_days"`
}

// LoadRules reads a YAML rules file, expands ${VAR} environment variables,
// applies defaults, and validates.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var rules Rules
	if err := yaml.Unmarshal([]byte(expanded), &rules); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}

	rules.applyDefaults()
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("validate rules: %w", err)
	}

	return &rules, nil
}

func (r *Rules) applyDefaults() {
	if r.DefaultPriority <= 0 {
		r.DefaultPriority = defaultSourcePriority
	}
}

// Validate rejects rules that would make a run behave unpredictably.
func (r *Rules) Validate() error {
	for source, p := range r.Priorities {
		if p <= 0 {
			return fmt.Errorf("priority for source %q must be positive, got %d", source, p)
		}
	}

	for i, s := range r.Supersessions {
		if s.Institution == "" || s.AccountRef == "" || s.SupersededSource == "" {
			return fmt.Errorf("supersessions[%d]: institution, account_ref, and superseded_source are required", i)
		}
	}

	for i, d := range r.Declined {
		if d.Source == "" || d.PayloadKey == "" {
			return fmt.Errorf("declined[%d]: source and payload_key are required", i)
		}
	}

	for i, source := range r.InternalDuplicateSources {
		if source == "" {
			return fmt.Errorf("internal_duplicate_sources[%d]: source must not be empty", i)
		}
	}

	for i, c := range r.CrossSource {
		if c.Institution == "" || c.AccountRef == "" {
			return fmt.Errorf("cross_source[%d]: institution and account_ref are required", i)
		}
		if len(c.Pairs) == 0 {
			return fmt.Errorf("cross_source[%d]: at least one source pair is required", i)
		}
		for j, p := range c.Pairs {
			if p.A == "" || p.B == "" {
				return fmt.Errorf("cross_source[%d].pairs[%d]: both sources are required", i, j)
			}
			if p.A == p.B {
				return fmt.Errorf("cross_source[%d].pairs[%d]: sources must differ", i, j)
			}
		}
		if c.DateToleranceDays < 0 {
			return fmt.Errorf("cross_source[%d]: date_tolerance_days must not be negative", i)
		}
	}

	return nil
}

// Priority returns a source's rank, falling back to the default for
// sources the rules file does not mention.
func (r *Rules) Priority(source string) int {
	if p, ok := r.Priorities[source]; ok {
		return p
	}
	return r.DefaultPriority
}
