package reporting

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Policy holds the compliance thresholds. Rates are fractions in [0, 1].
type Policy struct {
	// GoodThreshold is the lowest rate bucketed as Good.
	GoodThreshold decimal.Decimal
	// WarningThreshold is the lowest rate bucketed as Warning; below it is AtRisk.
	WarningThreshold decimal.Decimal
	// HoldThreshold raises the payment hold for LEAs below it with payments pending.
	HoldThreshold decimal.Decimal
}

// DefaultPolicy returns 90% / 50% buckets with the hold at the warning threshold.
func DefaultPolicy() Policy {
	return Policy{
		GoodThreshold:    decimal.RequireFromString("0.90"),
		WarningThreshold: decimal.RequireFromString("0.50"),
		HoldThreshold:    decimal.RequireFromString("0.50"),
	}
}

type policyFile struct {
	Compliance struct {
		Good    *float64 `yaml:"good"`
		Warning *float64 `yaml:"warning"`
		Hold    *float64 `yaml:"hold"`
	} `yaml:"compliance"`
}

// LoadPolicy reads a YAML policy file. Missing keys keep their defaults and an
// empty path returns DefaultPolicy.
//
//	compliance:
//	  good: 0.9
//	  warning: 0.5
//	  hold: 0.5
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read compliance policy: %w", err)
	}
	return ParsePolicy(raw)
}

// ParsePolicy decodes YAML policy content.
func ParsePolicy(raw []byte) (Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Policy{}, fmt.Errorf("parse compliance policy: %w", err)
	}
	p := DefaultPolicy()
	warningSet := file.Compliance.Warning != nil
	if v := file.Compliance.Good; v != nil {
		p.GoodThreshold = decimal.NewFromFloat(*v)
	}
	if v := file.Compliance.Warning; v != nil {
		p.WarningThreshold = decimal.NewFromFloat(*v)
	}
	switch {
	case file.Compliance.Hold != nil:
		p.HoldThreshold = decimal.NewFromFloat(*file.Compliance.Hold)
	case warningSet:
		p.HoldThreshold = p.WarningThreshold
	}
	return p, p.Validate()
}

// Validate checks the thresholds are ordered fractions.
func (p Policy) Validate() error {
	one := decimal.NewFromInt(1)
	for _, v := range []decimal.Decimal{p.GoodThreshold, p.WarningThreshold, p.HoldThreshold} {
		if v.IsNegative() || v.GreaterThan(one) {
			return fmt.Errorf("%w: threshold %s outside [0, 1]", ErrValidation, v)
		}
	}
	if p.WarningThreshold.GreaterThan(p.GoodThreshold) {
		return fmt.Errorf("%w: warning threshold %s above good threshold %s", ErrValidation, p.WarningThreshold, p.GoodThreshold)
	}
	return nil
}

// Bucket classifies a compliance rate.
func (p Policy) Bucket(rate decimal.Decimal) ComplianceStatus {
	switch {
	case rate.GreaterThanOrEqual(p.GoodThreshold):
		return ComplianceGood
	case rate.GreaterThanOrEqual(p.WarningThreshold):
		return ComplianceWarning
	default:
		return ComplianceAtRisk
	}
}
