package costbreakdown

import (
	"errors"
	"fmt"
	"math"
)

// All amounts in this package are integer cents.

// ErrInvalidInput wraps every calculator validation failure.
var ErrInvalidInput = errors.New("invalid cost breakdown input")

type CoverageType string

const (
	CoverageIndividual CoverageType = "individual"
	CoverageFamily     CoverageType = "family"
)

type CostSharingType string

const (
	SharingCopay                   CostSharingType = "copay"
	SharingCoinsurance             CostSharingType = "coinsurance"
	SharingCopayNoDeductible       CostSharingType = "copay_no_deductible"
	SharingCoinsuranceNoDeductible CostSharingType = "coinsurance_no_deductible"
	SharingCoinsuranceMin          CostSharingType = "coinsurance_min"
	SharingCoinsuranceMax          CostSharingType = "coinsurance_max"
)

var validSharingTypes = map[CostSharingType]bool{
	SharingCopay: true, SharingCoinsurance: true,
	SharingCopayNoDeductible: true, SharingCoinsuranceNoDeductible: true,
	SharingCoinsuranceMin: true, SharingCoinsuranceMax: true,
}

// PlanLimits are the annual limits of a health plan. A zero limit means the
// plan has no limit at that tier.
type PlanLimits struct {
	CoverageType         CoverageType `json:"coverage_type"`
	IndividualDeductible int64        `json:"individual_deductible"`
	IndividualOOPMax     int64        `json:"individual_oop_max"`
	FamilyDeductible     int64        `json:"family_deductible"`
	FamilyOOPMax         int64        `json:"family_oop_max"`
	IsDeductibleEmbedded bool         `json:"is_deductible_embedded"`
	IsOOPEmbedded        bool         `json:"is_oop_embedded"`
}

// YearToDateSpend is what has already accumulated toward the limits this plan year.
type YearToDateSpend struct {
	IndividualDeductible int64 `json:"individual_deductible"`
	IndividualOOP        int64 `json:"individual_oop"`
	FamilyDeductible     int64 `json:"family_deductible"`
	FamilyOOP            int64 `json:"family_oop"`
}

type CostSharing struct {
	Type            CostSharingType `json:"type"`
	Copay           int64           `json:"copay"`
	CoinsuranceRate float64         `json:"coinsurance_rate"`
}

func (s CostSharing) skipsDeductible() bool {
	return s.Type == SharingCopayNoDeductible || s.Type == SharingCoinsuranceNoDeductible
}

type Input struct {
	Cost    int64           `json:"cost"`
	Limits  PlanLimits      `json:"limits"`
	YTD     YearToDateSpend `json:"ytd"`
	Sharing CostSharing     `json:"sharing"`
}

// Remaining holds what is left of the deductible and out-of-pocket maximum.
// The Limited flags are false when the plan has no limit at any applicable tier.
type Remaining struct {
	Deductible        int64 `json:"deductible"`
	OOP               int64 `json:"oop"`
	DeductibleLimited bool  `json:"deductible_limited"`
	OOPLimited        bool  `json:"oop_limited"`
}

type Breakdown struct {
	Cost                   int64           `json:"cost"`
	Deductible             int64           `json:"deductible"`
	Copay                  int64           `json:"copay"`
	Coinsurance            int64           `json:"coinsurance"`
	OOPApplied             int64           `json:"oop_applied"`
	DeductibleRemaining    int64           `json:"deductible_remaining"`
	OOPRemaining           int64           `json:"oop_remaining"`
	MemberResponsibility   int64           `json:"member_responsibility"`
	EmployerResponsibility int64           `json:"employer_responsibility"`
	OverageAmount          int64           `json:"overage_amount"`
	BeginningWalletBalance int64           `json:"beginning_wallet_balance"`
	EndingWalletBalance    int64           `json:"ending_wallet_balance"`
	AmountType             CoverageType    `json:"amount_type"`
	CostShareType          CostSharingType `json:"cost_share_type,omitempty"`
}

func tierRemaining(limit, spent int64) int64 {
	if spent >= limit {
		return 0
	}
	return limit - spent
}

func remainingFor(coverage CoverageType, embedded bool, indLimit, indSpent, famLimit, famSpent int64) (int64, bool) {
	if coverage != CoverageFamily {
		if indLimit <= 0 {
			return 0, false
		}
		return tierRemaining(indLimit, indSpent), true
	}
	if !embedded {
		if famLimit <= 0 {
			return 0, false
		}
		return tierRemaining(famLimit, famSpent), true
	}

	limited := false
	var rem int64
	if indLimit > 0 {
		rem, limited = tierRemaining(indLimit, indSpent), true
	}
	if famLimit > 0 {
		fam := tierRemaining(famLimit, famSpent)
		if !limited || fam < rem {
			rem = fam
		}
		limited = true
	}
	return rem, limited
}

// RemainingAmounts computes the remaining deductible and out-of-pocket amounts.
// Embedded family plans are bound by whichever of the member's own limit and the
// family limit is closer to being met.
func RemainingAmounts(limits PlanLimits, ytd YearToDateSpend) Remaining {
	var r Remaining
	r.Deductible, r.DeductibleLimited = remainingFor(limits.CoverageType, limits.IsDeductibleEmbedded,
		limits.IndividualDeductible, ytd.IndividualDeductible, limits.FamilyDeductible, ytd.FamilyDeductible)
	r.OOP, r.OOPLimited = remainingFor(limits.CoverageType, limits.IsOOPEmbedded,
		limits.IndividualOOPMax, ytd.IndividualOOP, limits.FamilyOOPMax, ytd.FamilyOOP)
	return r
}

func validate(in Input) error {
	if in.Cost < 0 {
		return fmt.Errorf("%w: cost must not be negative, got %d", ErrInvalidInput, in.Cost)
	}
	if in.Limits.CoverageType != CoverageIndividual && in.Limits.CoverageType != CoverageFamily {
		return fmt.Errorf("%w: coverage type %q", ErrInvalidInput, in.Limits.CoverageType)
	}
	return in.Sharing.Validate()
}

func (s CostSharing) Validate() error {
	if !validSharingTypes[s.Type] {
		return fmt.Errorf("%w: cost sharing type %q", ErrInvalidInput, s.Type)
	}
	// NaN fails both comparisons.
	if !(s.CoinsuranceRate >= 0 && s.CoinsuranceRate <= 1) {
		return fmt.Errorf("%w: coinsurance rate must be between 0 and 1, got %v", ErrInvalidInput, s.CoinsuranceRate)
	}
	if s.Copay < 0 {
		return fmt.Errorf("%w: copay must not be negative, got %d", ErrInvalidInput, s.Copay)
	}
	return nil
}

// costShare applies the plan's cost sharing to the amount left after the
// deductible and reports which component the member pays.
func costShare(s CostSharing, rest int64) (copay, coinsurance int64, kind CostSharingType) {
	if rest <= 0 {
		return 0, 0, ""
	}
	coins := int64(math.Round(float64(rest) * s.CoinsuranceRate))
	cp := s.Copay
	if cp > rest {
		cp = rest
	}

	switch s.Type {
	case SharingCopay, SharingCopayNoDeductible:
		return cp, 0, SharingCopay
	case SharingCoinsurance, SharingCoinsuranceNoDeductible:
		return 0, coins, SharingCoinsurance
	case SharingCoinsuranceMin:
		// copay is a floor; ties go to coinsurance
		if cp > coins {
			return cp, 0, SharingCopay
		}
		return 0, coins, SharingCoinsurance
	case SharingCoinsuranceMax:
		// copay is a ceiling; ties go to coinsurance
		if cp < coins {
			return cp, 0, SharingCopay
		}
		return 0, coins, SharingCoinsurance
	}
	return 0, 0, ""
}

// Calculate splits a procedure cost between member and employer.
func Calculate(in Input) (Breakdown, error) {
	if err := validate(in); err != nil {
		return Breakdown{}, err
	}

	rem := RemainingAmounts(in.Limits, in.YTD)
	b := Breakdown{
		Cost:                in.Cost,
		AmountType:          in.Limits.CoverageType,
		DeductibleRemaining: rem.Deductible,
		OOPRemaining:        rem.OOP,
	}

	if rem.OOPLimited && rem.OOP == 0 {
		b.EmployerResponsibility = in.Cost
		return b, nil
	}

	if rem.DeductibleLimited && !in.Sharing.skipsDeductible() {
		b.Deductible = min64(in.Cost, rem.Deductible)
	}
	b.Copay, b.Coinsurance, b.CostShareType = costShare(in.Sharing, in.Cost-b.Deductible)

	if rem.OOPLimited {
		b.Deductible = min64(b.Deductible, rem.OOP)
		capLeft := rem.OOP - b.Deductible
		b.Copay = min64(b.Copay, capLeft)
		b.Coinsurance = min64(b.Coinsurance, capLeft)
	}

	b.MemberResponsibility = b.Deductible + b.Copay + b.Coinsurance
	b.EmployerResponsibility = in.Cost - b.MemberResponsibility
	b.OOPApplied = b.MemberResponsibility
	b.DeductibleRemaining = rem.Deductible - b.Deductible
	if rem.OOPLimited {
		b.OOPRemaining = rem.OOP - b.OOPApplied
	}
	return b, nil
}

// ApplyWallet draws the employer responsibility from the wallet balance. Any
// part the balance cannot cover moves to the member as overage; overage does
// not accumulate toward the plan limits.
func ApplyWallet(b Breakdown, balance int64) (Breakdown, error) {
	if balance < 0 {
		return b, fmt.Errorf("%w: wallet balance must not be negative, got %d", ErrInvalidInput, balance)
	}
	covered := min64(b.EmployerResponsibility, balance)
	b.BeginningWalletBalance = balance
	b.OverageAmount = b.EmployerResponsibility - covered
	b.MemberResponsibility += b.OverageAmount
	b.EmployerResponsibility = covered
	b.EndingWalletBalance = balance - covered
	return b, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
