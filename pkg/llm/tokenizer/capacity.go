package tokenizer

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultCapacity is the context size assumed for models no rule matches.
const DefaultCapacity = 4096

// CapacityRule maps a model name pattern to a context size.
// Patterns use glob syntax and are matched against the lower-cased model name.
type CapacityRule struct {
	Pattern  string `yaml:"pattern" json:"pattern"`
	Capacity int    `yaml:"capacity" json:"capacity"`
}

type compiledRule struct {
	g        glob.Glob
	capacity int
}

// CapacityTable resolves model capacities from an ordered rule list.
// The first matching rule wins.
type CapacityTable struct {
	rules    []compiledRule
	fallback int
}

// DefaultCapacityRules returns the built-in rules.
func DefaultCapacityRules() []CapacityRule {
	return []CapacityRule{
		{Pattern: "*16k", Capacity: 16384},
		{Pattern: "*gpt-4*", Capacity: 128000},
	}
}

// NewCapacityTable compiles rules into a table.
func NewCapacityTable(rules []CapacityRule, fallback int) (*CapacityTable, error) {
	if fallback <= 0 {
		return nil, fmt.Errorf("default capacity must be positive, got %d", fallback)
	}

	table := &CapacityTable{fallback: fallback}
	for _, r := range rules {
		if r.Capacity <= 0 {
			return nil, fmt.Errorf("capacity for pattern %q must be positive, got %d", r.Pattern, r.Capacity)
		}
		g, err := glob.Compile(strings.ToLower(r.Pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid capacity pattern %q: %w", r.Pattern, err)
		}
		table.rules = append(table.rules, compiledRule{g: g, capacity: r.Capacity})
	}
	return table, nil
}

// DefaultCapacityTable returns the table built from DefaultCapacityRules.
func DefaultCapacityTable() *CapacityTable {
	table, err := NewCapacityTable(DefaultCapacityRules(), DefaultCapacity)
	if err != nil {
		panic(err)
	}
	return table
}

// Lookup returns the capacity for model.
func (c *CapacityTable) Lookup(model string) int {
	name := strings.ToLower(model)
	for _, r := range c.rules {
		if r.g.Match(name) {
			return r.capacity
		}
	}
	return c.fallback
}
