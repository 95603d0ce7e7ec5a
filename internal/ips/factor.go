// Package ips models Investment Policy Statements: weighted threshold rules
// that an option trade candidate must satisfy, and the scoring engine that
// evaluates candidates against them.
package ips

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Operator is the comparison a factor applies to its input value.
type Operator string

const (
	OpGTE   Operator = "gte"
	OpLTE   Operator = "lte"
	OpEQ    Operator = "eq"
	OpRange Operator = "range"
)

// Factor is one weighted threshold rule. Factors are immutable for the
// duration of a run.
type Factor struct {
	Key      string   `yaml:"key"`
	Weight   float64  `yaml:"weight"`
	Operator Operator `yaml:"operator"`
	Target   float64  `yaml:"target"`
	// TargetMax is the upper bound for range factors; Target is the lower.
	TargetMax *float64 `yaml:"target_max,omitempty"`
	Enabled   bool     `yaml:"enabled"`
}

// Validate checks that the factor definition is usable.
func (f *Factor) Validate() error {
	if f.Key == "" {
		return fmt.Errorf("factor missing key")
	}
	if f.Weight < 0 {
		return fmt.Errorf("factor %s has negative weight %f", f.Key, f.Weight)
	}
	switch f.Operator {
	case OpGTE, OpLTE, OpEQ:
	case OpRange:
		if f.TargetMax == nil {
			return fmt.Errorf("factor %s: range operator requires target_max", f.Key)
		}
		if *f.TargetMax <= f.Target {
			return fmt.Errorf("factor %s: target_max %f must exceed target %f",
				f.Key, *f.TargetMax, f.Target)
		}
	default:
		return fmt.Errorf("factor %s has unknown operator %q", f.Key, f.Operator)
	}
	return nil
}

// ExitThresholds define when the simulator closes a position, both expressed
// as percentages of the entry premium.
type ExitThresholds struct {
	ProfitTargetPct float64 `yaml:"profit_target_pct"`
	StopLossPct     float64 `yaml:"stop_loss_pct"`
}

// Default exit thresholds: take profit at 50% of the credit, stop out when
// the spread trades at 3x the credit.
const (
	DefaultProfitTargetPct = 50
	DefaultStopLossPct     = 200
)

// IPS is a named rule set plus the strategy and tenor constraints a
// candidate must fall within.
type IPS struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Factors    []Factor       `yaml:"factors"`
	Strategies []string       `yaml:"strategies"`
	MinDTE     int            `yaml:"min_dte"`
	MaxDTE     int            `yaml:"max_dte"`
	Exit       ExitThresholds `yaml:"exit"`
}

// EnabledFactors returns only the factors that participate in scoring.
func (p *IPS) EnabledFactors() []Factor {
	var out []Factor
	for _, f := range p.Factors {
		if f.Enabled {
			out = append(out, f)
		}
	}
	return out
}

// Validate checks the rule set. A rule set with no enabled factors cannot
// drive a run and is a configuration error.
func (p *IPS) Validate() error {
	if len(p.EnabledFactors()) == 0 {
		return fmt.Errorf("ips %q has no enabled factors", p.Name)
	}
	for i := range p.Factors {
		if err := p.Factors[i].Validate(); err != nil {
			return fmt.Errorf("ips %q: %w", p.Name, err)
		}
	}
	if p.MinDTE < 0 || (p.MaxDTE > 0 && p.MaxDTE < p.MinDTE) {
		return fmt.Errorf("ips %q has invalid dte window [%d, %d]", p.Name, p.MinDTE, p.MaxDTE)
	}
	return nil
}

// Normalize fills in default exit thresholds where unset.
func (p *IPS) Normalize() {
	if p.Exit.ProfitTargetPct <= 0 {
		p.Exit.ProfitTargetPct = DefaultProfitTargetPct
	}
	if p.Exit.StopLossPct <= 0 {
		p.Exit.StopLossPct = DefaultStopLossPct
	}
}

// LoadFile reads, normalizes, and validates an IPS definition from a YAML
// file.
func LoadFile(path string) (*IPS, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	p := &IPS{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing ips %s: %w", path, err)
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
