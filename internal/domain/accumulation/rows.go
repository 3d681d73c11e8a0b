package accumulation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/memberhealth/benefits/internal/domain/healthplan"
)

// MaxRowAmount bounds each detail amount, in cents.
const MaxRowAmount int64 = 99_999_999

var accumulatorCodes = map[string]string{
	healthplan.SpendMedical: "MD",
	healthplan.SpendRx:      "RX",
}

func spendTypeFromCode(code string) (string, bool) {
	for t, c := range accumulatorCodes {
		if c == code {
			return t, true
		}
	}
	return "", false
}

var genderCodes = map[string]string{"female": "F", "male": "M", "unknown": "U"}

// detailRow is one mapping rendered with the member's plan data.
type detailRow struct {
	TransactionID string
	PolicyID      string
	MemberRef     string
	FirstName     string
	LastName      string
	DateOfBirth   time.Time
	Gender        string
	ServiceDate   time.Time
	SpendType     string
	Deductible    int64
	OOP           int64
	Reversal      bool
}

func newDetailRow(m *Mapping, plan *healthplan.MemberHealthPlan) detailRow {
	first, last, dob := plan.PatientFirstName, plan.PatientLastName, plan.PatientDOB
	if first == "" && last == "" {
		first, last = plan.SubscriberFirstName, plan.SubscriberLastName
	}
	if dob.IsZero() {
		dob = plan.SubscriberDOB
	}
	return detailRow{
		TransactionID: m.ID.String(),
		PolicyID:      plan.SubscriberInsuranceID,
		MemberRef:     m.MemberID.String(),
		FirstName:     first,
		LastName:      last,
		DateOfBirth:   dob,
		Gender:        genderCodes[strings.ToLower(plan.PatientSex)],
		ServiceDate:   m.ServiceDate,
		SpendType:     m.SpendType,
		Deductible:    m.Deductible,
		OOP:           m.OOPApplied,
		Reversal:      m.IsReversal,
	}
}

// validate lists every problem with the row, or returns "" when it can be sent.
func (d detailRow) validate() string {
	var problems []string
	if strings.TrimSpace(d.PolicyID) == "" {
		problems = append(problems, "member id is required")
	}
	if strings.TrimSpace(d.FirstName) == "" || strings.TrimSpace(d.LastName) == "" {
		problems = append(problems, "member name is required")
	}
	if d.DateOfBirth.IsZero() {
		problems = append(problems, "date of birth is required")
	}
	if d.ServiceDate.IsZero() {
		problems = append(problems, "service date is required")
	}
	if _, ok := accumulatorCodes[d.SpendType]; !ok {
		problems = append(problems, fmt.Sprintf("unknown accumulator type %q", d.SpendType))
	}
	for name, amt := range map[string]int64{"deductible": d.Deductible, "oop": d.OOP} {
		switch {
		case amt > MaxRowAmount || amt < -MaxRowAmount:
			problems = append(problems, fmt.Sprintf("%s %d out of range", name, amt))
		case amt < 0 && !d.Reversal:
			problems = append(problems, fmt.Sprintf("%s is negative on a non-reversal row", name))
		case amt > 0 && d.Reversal:
			problems = append(problems, fmt.Sprintf("%s is positive on a reversal row", name))
		}
	}
	if d.Deductible == 0 && d.OOP == 0 {
		problems = append(problems, "row applies nothing")
	}
	sort.Strings(problems)
	return strings.Join(problems, "; ")
}

func (d detailRow) values() Values {
	return Values{
		"transaction_id":   d.TransactionID,
		"member_id":        d.PolicyID,
		"member_ref":       d.MemberRef,
		"first_name":       d.FirstName,
		"last_name":        d.LastName,
		"date_of_birth":    d.DateOfBirth,
		"gender":           d.Gender,
		"service_date":     d.ServiceDate,
		"accumulator_type": accumulatorCodes[d.SpendType],
		"deductible":       d.Deductible,
		"oop":              d.OOP,
	}
}
