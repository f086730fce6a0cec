package capability

import (
	"fmt"
	"strings"
)

// RiskLevel represents the security risk level of a grant.
type RiskLevel int

const (
	RiskNone RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskCritical
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "none"
	}
}

// RiskReport contains the overall risk assessment for a grant set.
type RiskReport struct {
	RiskFactors []RiskFactor
	Level       RiskLevel
}

// RiskFactor describes a single risk element in a grant set.
type RiskFactor struct {
	Description string
	Rule        string
	Level       RiskLevel
}

var scopeRisk = map[Scope]RiskLevel{
	ScopeUserInfo:         RiskLow,
	ScopeWeRun:            RiskLow,
	ScopeWritePhotosAlbum: RiskMedium,
	ScopeUserLocation:     RiskHigh,
	ScopeRecord:           RiskHigh,
}

// AnalyzeRisk evaluates the risk level of a GrantSet. Denied scopes carry
// no risk.
func AnalyzeRisk(grants *GrantSet) RiskReport {
	report := RiskReport{
		Level: RiskNone,
	}

	if grants == nil {
		return report
	}

	addFactor := func(level RiskLevel, desc, rule string) {
		if level > RiskNone {
			report.RiskFactors = append(report.RiskFactors, RiskFactor{
				Level:       level,
				Description: desc,
				Rule:        rule,
			})
			if level > report.Level {
				report.Level = level
			}
		}
	}

	for _, s := range grants.Scopes {
		level, ok := scopeRisk[s]
		if !ok {
			level = RiskMedium
		}
		addFactor(level, "Access to "+s.Description(), string(s))
	}

	for _, d := range grants.Domains {
		rule := fmt.Sprintf("Domain: %s", d)
		switch {
		case IsBroadDomain(d):
			addFactor(RiskCritical, "Unrestricted network access", rule)
		case strings.HasPrefix(d, "*."):
			addFactor(RiskMedium, "Network access to a domain family", rule)
		default:
			addFactor(RiskLow, "Outbound network access", rule)
		}
	}

	return report
}

// IsBroadDomain reports whether a domain grant admits every host.
func IsBroadDomain(d string) bool {
	return d == "*" || d == "0.0.0.0"
}
