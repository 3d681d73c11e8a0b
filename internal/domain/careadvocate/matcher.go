package careadvocate

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Matcher evaluates rule sets and picks an advocate for a member.
type Matcher struct{}

// Match returns the advocates with at least one rule set the member satisfies,
// leaving out those on vacation at at.
func (Matcher) Match(p MemberProfile, advocates []*Advocate, at time.Time) []*Advocate {
	return lo.Filter(advocates, func(a *Advocate, _ int) bool {
		if a.OnVacation(at) {
			return false
		}
		return lo.SomeBy(a.RuleSets, func(rs *RuleSet) bool { return rs.Matches(p) })
	})
}

// hasRoom reports whether the advocate can take another member. A zero
// MaxCapacity puts no cap on the total; a zero DailyIntroCapacity takes no
// new members.
func hasRoom(a *Advocate, l Load) bool {
	if l.AssignedToday >= a.DailyIntroCapacity {
		return false
	}
	return a.MaxCapacity == 0 || l.TotalMembers < a.MaxCapacity
}

// Select picks the candidate with the lowest share of today's intro capacity
// used. Ties go to fewer total members, then the lower id.
func (Matcher) Select(candidates []*Advocate, loads map[uuid.UUID]Load) (*Advocate, bool) {
	open := lo.Filter(candidates, func(a *Advocate, _ int) bool { return hasRoom(a, loads[a.ID]) })
	if len(open) == 0 {
		return nil, false
	}
	sort.SliceStable(open, func(i, j int) bool {
		a, b := open[i], open[j]
		la, lb := loads[a.ID], loads[b.ID]
		// assigned_today / capacity compared without division
		ra, rb := la.AssignedToday*b.DailyIntroCapacity, lb.AssignedToday*a.DailyIntroCapacity
		if ra != rb {
			return ra < rb
		}
		if la.TotalMembers != lb.TotalMembers {
			return la.TotalMembers < lb.TotalMembers
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
	return open[0], true
}
