package careadvocate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

var ErrInvalidRuleSet = errors.New("invalid rule set")

const (
	countryUS    = "US"
	countryOther = "other"
	flagNone     = "none"
)

var validEntities = map[string]bool{
	EntityCountry: true, EntityOrganization: true, EntityTrack: true, EntityUserFlag: true,
}

// ValidateRuleSet checks rule shapes. Country and track rules only make sense
// as includes, and each entity/type pair may appear once.
func ValidateRuleSet(rs *RuleSet) error {
	seen := map[string]bool{}
	for _, r := range rs.Rules {
		if r.Type != RuleInclude && r.Type != RuleExclude {
			return fmt.Errorf("%w: unknown rule type %q", ErrInvalidRuleSet, r.Type)
		}
		if !validEntities[r.Entity] {
			return fmt.Errorf("%w: unknown entity %q", ErrInvalidRuleSet, r.Entity)
		}
		if r.Type == RuleExclude && r.Entity != EntityOrganization {
			return fmt.Errorf("%w: %s rules cannot exclude", ErrInvalidRuleSet, r.Entity)
		}
		if !r.All && len(r.Identifiers) == 0 {
			return fmt.Errorf("%w: %s %s rule needs identifiers or all", ErrInvalidRuleSet, r.Type, r.Entity)
		}
		key := r.Type + "/" + r.Entity
		if seen[key] {
			return fmt.Errorf("%w: duplicate %s %s rule", ErrInvalidRuleSet, r.Type, r.Entity)
		}
		seen[key] = true
	}
	return nil
}

func (rs *RuleSet) rule(typ, entity string) (MatchingRule, bool) {
	return lo.Find(rs.Rules, func(r MatchingRule) bool { return r.Type == typ && r.Entity == entity })
}

// Matches reports whether the member satisfies every dimension of the set.
func (rs *RuleSet) Matches(p MemberProfile) bool {
	return rs.matchesCountry(p) && rs.matchesOrganization(p) && rs.matchesTrack(p) && rs.matchesFlags(p)
}

func (rs *RuleSet) matchesCountry(p MemberProfile) bool {
	r, ok := rs.rule(RuleInclude, EntityCountry)
	if !ok {
		return false
	}
	if r.All {
		return true
	}
	country := strings.ToUpper(p.Country)
	for _, id := range r.Identifiers {
		if strings.EqualFold(id, countryOther) {
			if country != "" && country != countryUS {
				return true
			}
			continue
		}
		if strings.ToUpper(id) == country {
			return true
		}
	}
	return false
}

func (rs *RuleSet) matchesOrganization(p MemberProfile) bool {
	r, ok := rs.rule(RuleInclude, EntityOrganization)
	if !ok {
		return false
	}
	org := p.OrganizationID.String()
	if !r.All && !lo.Contains(r.Identifiers, org) {
		return false
	}
	if ex, ok := rs.rule(RuleExclude, EntityOrganization); ok && !ex.All {
		return !lo.Contains(ex.Identifiers, org)
	}
	return true
}

func (rs *RuleSet) matchesTrack(p MemberProfile) bool {
	r, ok := rs.rule(RuleInclude, EntityTrack)
	if !ok || len(p.Tracks) == 0 {
		return false
	}
	return r.All || lo.Some(r.Identifiers, p.Tracks)
}

func (rs *RuleSet) matchesFlags(p MemberProfile) bool {
	r, ok := rs.rule(RuleInclude, EntityUserFlag)
	if len(p.Flags) == 0 {
		return !ok || lo.Contains(r.Identifiers, flagNone)
	}
	if !ok {
		return false
	}
	return r.All || lo.Every(r.Identifiers, p.Flags)
}
