package careadvocate

import (
	"time"

	"github.com/google/uuid"
)

// Rule types.
const (
	RuleInclude = "include"
	RuleExclude = "exclude"
)

// Rule entities.
const (
	EntityCountry      = "country"
	EntityOrganization = "organization"
	EntityTrack        = "track"
	EntityUserFlag     = "user_flag"
)

// Advocate is a care advocate practitioner members can be matched with.
type Advocate struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	MaxCapacity        int        `json:"max_capacity"`
	DailyIntroCapacity int        `json:"daily_intro_capacity"`
	VacationStartedAt  *time.Time `json:"vacation_started_at,omitempty"`
	VacationEndedAt    *time.Time `json:"vacation_ended_at,omitempty"`
	RuleSets           []*RuleSet `json:"rule_sets,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// OnVacation reports whether at falls inside the advocate's vacation window.
// An open-ended window covers everything after its start.
func (a *Advocate) OnVacation(at time.Time) bool {
	if a.VacationStartedAt == nil || at.Before(*a.VacationStartedAt) {
		return false
	}
	return a.VacationEndedAt == nil || at.Before(*a.VacationEndedAt)
}

// RuleSet is one combination of rules an advocate accepts members under.
type RuleSet struct {
	ID         uuid.UUID      `json:"id"`
	AdvocateID uuid.UUID      `json:"advocate_id"`
	Rules      []MatchingRule `json:"rules"`
	CreatedAt  time.Time      `json:"created_at"`
}

type MatchingRule struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	Entity      string    `json:"entity"`
	All         bool      `json:"all"`
	Identifiers []string  `json:"identifiers"`
}

// MemberProfile is what matching knows about a member.
type MemberProfile struct {
	MemberID       uuid.UUID `json:"member_id"`
	Country        string    `json:"country"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Tracks         []string  `json:"tracks"`
	Flags          []string  `json:"flags"`
}

// Assignment sources. Only matched assignments use up an advocate's daily
// intro capacity.
const (
	AssignmentMatched    = "match"
	AssignmentTransition = "transition"
)

// Assignment is a member's current care advocate.
type Assignment struct {
	MemberID   uuid.UUID `json:"member_id"`
	AdvocateID uuid.UUID `json:"advocate_id"`
	Source     string    `json:"source"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Load is an advocate's current member counts.
type Load struct {
	AssignedToday int `json:"assigned_today"`
	TotalMembers  int `json:"total_members"`
}

// TransitionLog is an uploaded batch of member reassignments.
type TransitionLog struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	DateScheduled    time.Time  `json:"date_scheduled"`
	DateCompleted    *time.Time `json:"date_completed,omitempty"`
	UploadedFilename string     `json:"uploaded_filename"`
	UploadedContent  string     `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (l *TransitionLog) Completed() bool { return l.DateCompleted != nil }
