package costbreakdown

import (
	"errors"
	"math"
	"testing"
)

func individualPlan() PlanLimits {
	return PlanLimits{
		CoverageType:         CoverageIndividual,
		IndividualDeductible: 100000,
		IndividualOOPMax:     300000,
	}
}

func familyPlan(embedded bool) PlanLimits {
	return PlanLimits{
		CoverageType:         CoverageFamily,
		IndividualDeductible: 150000,
		IndividualOOPMax:     400000,
		FamilyDeductible:     300000,
		FamilyOOPMax:         800000,
		IsDeductibleEmbedded: embedded,
		IsOOPEmbedded:        embedded,
	}
}

func TestRemainingAmounts(t *testing.T) {
	tests := []struct {
		name        string
		limits      PlanLimits
		ytd         YearToDateSpend
		wantDed     int64
		wantOOP     int64
		wantLimited bool
	}{
		{
			name:        "individual untouched",
			limits:      individualPlan(),
			wantDed:     100000,
			wantOOP:     300000,
			wantLimited: true,
		},
		{
			name:        "individual overspent clamps to zero",
			limits:      individualPlan(),
			ytd:         YearToDateSpend{IndividualDeductible: 120000, IndividualOOP: 310000},
			wantDed:     0,
			wantOOP:     0,
			wantLimited: true,
		},
		{
			name:        "individual plan ignores family spend",
			limits:      individualPlan(),
			ytd:         YearToDateSpend{FamilyDeductible: 90000, FamilyOOP: 90000},
			wantDed:     100000,
			wantOOP:     300000,
			wantLimited: true,
		},
		{
			name:        "embedded family bound by family tier",
			limits:      familyPlan(true),
			ytd:         YearToDateSpend{IndividualDeductible: 50000, FamilyDeductible: 250000, IndividualOOP: 50000, FamilyOOP: 250000},
			wantDed:     50000,
			wantOOP:     350000,
			wantLimited: true,
		},
		{
			name:        "embedded family bound by individual tier",
			limits:      familyPlan(true),
			ytd:         YearToDateSpend{IndividualDeductible: 140000, FamilyDeductible: 140000},
			wantDed:     10000,
			wantOOP:     400000,
			wantLimited: true,
		},
		{
			name:        "non-embedded family uses family tier only",
			limits:      familyPlan(false),
			ytd:         YearToDateSpend{IndividualDeductible: 140000, FamilyDeductible: 100000},
			wantDed:     200000,
			wantOOP:     800000,
			wantLimited: true,
		},
		{
			name: "embedded family with only family limit",
			limits: PlanLimits{
				CoverageType: CoverageFamily, FamilyDeductible: 300000, FamilyOOPMax: 600000,
				IsDeductibleEmbedded: true, IsOOPEmbedded: true,
			},
			ytd:         YearToDateSpend{FamilyDeductible: 100000},
			wantDed:     200000,
			wantOOP:     600000,
			wantLimited: true,
		},
		{
			name:        "no limits",
			limits:      PlanLimits{CoverageType: CoverageFamily, IsDeductibleEmbedded: true},
			wantLimited: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RemainingAmounts(tt.limits, tt.ytd)
			if got.Deductible != tt.wantDed {
				t.Errorf("deductible remaining = %d, want %d", got.Deductible, tt.wantDed)
			}
			if got.OOP != tt.wantOOP {
				t.Errorf("oop remaining = %d, want %d", got.OOP, tt.wantOOP)
			}
			if got.DeductibleLimited != tt.wantLimited || got.OOPLimited != tt.wantLimited {
				t.Errorf("limited = (%v, %v), want %v", got.DeductibleLimited, got.OOPLimited, tt.wantLimited)
			}
		})
	}
}

func TestCalculate(t *testing.T) {
	coins20 := CostSharing{Type: SharingCoinsurance, CoinsuranceRate: 0.2}

	tests := []struct {
		name         string
		in           Input
		wantDed      int64
		wantCopay    int64
		wantCoins    int64
		wantMember   int64
		wantEmployer int64
		wantOOPRem   int64
		wantDedRem   int64
		wantShare    CostSharingType
	}{
		{
			name:         "deductible then coinsurance",
			in:           Input{Cost: 200000, Limits: individualPlan(), Sharing: coins20},
			wantDed:      100000,
			wantCoins:    20000,
			wantMember:   120000,
			wantEmployer: 80000,
			wantOOPRem:   180000,
			wantDedRem:   0,
			wantShare:    SharingCoinsurance,
		},
		{
			name: "oop cap limits coinsurance",
			in: Input{
				Cost: 200000, Limits: individualPlan(), Sharing: coins20,
				YTD: YearToDateSpend{IndividualDeductible: 100000, IndividualOOP: 290000},
			},
			wantCoins:    10000,
			wantMember:   10000,
			wantEmployer: 190000,
			wantOOPRem:   0,
			wantShare:    SharingCoinsurance,
		},
		{
			name: "oop met member pays nothing",
			in: Input{
				Cost: 200000, Limits: individualPlan(), Sharing: coins20,
				YTD: YearToDateSpend{IndividualDeductible: 100000, IndividualOOP: 300000},
			},
			wantEmployer: 200000,
		},
		{
			name: "oop cap limits deductible",
			in: Input{
				Cost:   200000,
				Limits: PlanLimits{CoverageType: CoverageIndividual, IndividualDeductible: 100000, IndividualOOPMax: 100000},
				YTD:    YearToDateSpend{IndividualDeductible: 20000, IndividualOOP: 60000},
				Sharing: coins20,
			},
			wantDed:      40000,
			wantMember:   40000,
			wantEmployer: 160000,
			wantOOPRem:   0,
			wantDedRem:   40000,
			wantShare:    SharingCoinsurance,
		},
		{
			name: "embedded family copay after deductible",
			in: Input{
				Cost: 80000, Limits: familyPlan(true),
				YTD:     YearToDateSpend{IndividualDeductible: 50000, FamilyDeductible: 250000},
				Sharing: CostSharing{Type: SharingCopay, Copay: 2000},
			},
			wantDed:      50000,
			wantCopay:    2000,
			wantMember:   52000,
			wantEmployer: 28000,
			wantOOPRem:   348000,
			wantShare:    SharingCopay,
		},
		{
			name: "non-embedded family absorbed by deductible",
			in: Input{
				Cost: 50000, Limits: familyPlan(false),
				YTD:     YearToDateSpend{IndividualDeductible: 140000, FamilyDeductible: 100000},
				Sharing: CostSharing{Type: SharingCoinsurance, CoinsuranceRate: 0.1},
			},
			wantDed:      50000,
			wantMember:   50000,
			wantEmployer: 0,
			wantOOPRem:   750000,
			wantDedRem:   150000,
		},
		{
			name: "copay without deductible",
			in: Input{
				Cost: 30000, Limits: individualPlan(),
				Sharing: CostSharing{Type: SharingCopayNoDeductible, Copay: 2500},
			},
			wantCopay:    2500,
			wantMember:   2500,
			wantEmployer: 27500,
			wantOOPRem:   297500,
			wantDedRem:   100000,
			wantShare:    SharingCopay,
		},
		{
			name: "coinsurance without deductible",
			in: Input{
				Cost: 30000, Limits: individualPlan(),
				Sharing: CostSharing{Type: SharingCoinsuranceNoDeductible, CoinsuranceRate: 0.1},
			},
			wantCoins:    3000,
			wantMember:   3000,
			wantEmployer: 27000,
			wantOOPRem:   297000,
			wantDedRem:   100000,
			wantShare:    SharingCoinsurance,
		},
		{
			name: "coinsurance min copay floor wins",
			in: Input{
				Cost: 10000, Limits: individualPlan(),
				YTD:     YearToDateSpend{IndividualDeductible: 100000, IndividualOOP: 100000},
				Sharing: CostSharing{Type: SharingCoinsuranceMin, Copay: 2500, CoinsuranceRate: 0.1},
			},
			wantCopay:    2500,
			wantMember:   2500,
			wantEmployer: 7500,
			wantOOPRem:   197500,
			wantShare:    SharingCopay,
		},
		{
			name: "coinsurance min tie goes to coinsurance",
			in: Input{
				Cost: 12500, Limits: individualPlan(),
				YTD:     YearToDateSpend{IndividualDeductible: 100000, IndividualOOP: 100000},
				Sharing: CostSharing{Type: SharingCoinsuranceMin, Copay: 2500, CoinsuranceRate: 0.2},
			},
			wantCoins:    2500,
			wantMember:   2500,
			wantEmployer: 10000,
			wantOOPRem:   197500,
			wantShare:    SharingCoinsurance,
		},
		{
			name: "coinsurance max copay ceiling wins",
			in: Input{
				Cost: 100000, Limits: individualPlan(),
				YTD:     YearToDateSpend{IndividualDeductible: 100000, IndividualOOP: 100000},
				Sharing: CostSharing{Type: SharingCoinsuranceMax, Copay: 5000, CoinsuranceRate: 0.2},
			},
			wantCopay:    5000,
			wantMember:   5000,
			wantEmployer: 95000,
			wantOOPRem:   195000,
			wantShare:    SharingCopay,
		},
		{
			name: "coinsurance max tie goes to coinsurance",
			in: Input{
				Cost: 25000, Limits: individualPlan(),
				YTD:     YearToDateSpend{IndividualDeductible: 100000, IndividualOOP: 100000},
				Sharing: CostSharing{Type: SharingCoinsuranceMax, Copay: 5000, CoinsuranceRate: 0.2},
			},
			wantCoins:    5000,
			wantMember:   5000,
			wantEmployer: 20000,
			wantOOPRem:   195000,
			wantShare:    SharingCoinsurance,
		},
		{
			name: "copay larger than remaining cost",
			in: Input{
				Cost: 1000, Limits: individualPlan(),
				YTD:     YearToDateSpend{IndividualDeductible: 100000, IndividualOOP: 100000},
				Sharing: CostSharing{Type: SharingCopay, Copay: 2500},
			},
			wantCopay:    1000,
			wantMember:   1000,
			wantEmployer: 0,
			wantOOPRem:   199000,
			wantShare:    SharingCopay,
		},
		{
			name: "plan without limits",
			in: Input{
				Cost: 10000, Limits: PlanLimits{CoverageType: CoverageIndividual}, Sharing: coins20,
			},
			wantCoins:    2000,
			wantMember:   2000,
			wantEmployer: 8000,
			wantShare:    SharingCoinsurance,
		},
		{
			name: "coinsurance rounds half up",
			in: Input{
				Cost: 1005, Limits: PlanLimits{CoverageType: CoverageIndividual},
				Sharing: CostSharing{Type: SharingCoinsurance, CoinsuranceRate: 0.1},
			},
			wantCoins:    101,
			wantMember:   101,
			wantEmployer: 904,
			wantShare:    SharingCoinsurance,
		},
		{
			name:       "zero cost",
			in:         Input{Cost: 0, Limits: individualPlan(), Sharing: coins20},
			wantOOPRem: 300000,
			wantDedRem: 100000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Calculate(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Deductible != tt.wantDed {
				t.Errorf("deductible = %d, want %d", got.Deductible, tt.wantDed)
			}
			if got.Copay != tt.wantCopay {
				t.Errorf("copay = %d, want %d", got.Copay, tt.wantCopay)
			}
			if got.Coinsurance != tt.wantCoins {
				t.Errorf("coinsurance = %d, want %d", got.Coinsurance, tt.wantCoins)
			}
			if got.MemberResponsibility != tt.wantMember {
				t.Errorf("member = %d, want %d", got.MemberResponsibility, tt.wantMember)
			}
			if got.EmployerResponsibility != tt.wantEmployer {
				t.Errorf("employer = %d, want %d", got.EmployerResponsibility, tt.wantEmployer)
			}
			if got.OOPRemaining != tt.wantOOPRem {
				t.Errorf("oop remaining = %d, want %d", got.OOPRemaining, tt.wantOOPRem)
			}
			if got.DeductibleRemaining != tt.wantDedRem {
				t.Errorf("deductible remaining = %d, want %d", got.DeductibleRemaining, tt.wantDedRem)
			}
			if got.CostShareType != tt.wantShare {
				t.Errorf("cost share type = %q, want %q", got.CostShareType, tt.wantShare)
			}
			if got.MemberResponsibility+got.EmployerResponsibility != got.Cost {
				t.Errorf("member + employer = %d, want cost %d", got.MemberResponsibility+got.EmployerResponsibility, got.Cost)
			}
			if got.OOPApplied != got.MemberResponsibility {
				t.Errorf("oop applied = %d, want %d", got.OOPApplied, got.MemberResponsibility)
			}
		})
	}
}

func TestCalculate_AmountType(t *testing.T) {
	b, err := Calculate(Input{Cost: 100, Limits: familyPlan(true), Sharing: CostSharing{Type: SharingCopay}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.AmountType != CoverageFamily {
		t.Errorf("amount type = %q, want family", b.AmountType)
	}
}

func TestCalculate_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"negative cost", Input{Cost: -1, Limits: individualPlan(), Sharing: CostSharing{Type: SharingCopay}}},
		{"rate above one", Input{Cost: 1, Limits: individualPlan(), Sharing: CostSharing{Type: SharingCoinsurance, CoinsuranceRate: 1.5}}},
		{"negative rate", Input{Cost: 1, Limits: individualPlan(), Sharing: CostSharing{Type: SharingCoinsurance, CoinsuranceRate: -0.1}}},
		{"NaN rate", Input{Cost: 1, Limits: individualPlan(), Sharing: CostSharing{Type: SharingCoinsurance, CoinsuranceRate: math.NaN()}}},
		{"negative copay", Input{Cost: 1, Limits: individualPlan(), Sharing: CostSharing{Type: SharingCopay, Copay: -5}}},
		{"missing coverage type", Input{Cost: 1, Sharing: CostSharing{Type: SharingCopay}}},
		{"unknown sharing type", Input{Cost: 1, Limits: individualPlan(), Sharing: CostSharing{Type: "flat"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Calculate(tt.in); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestApplyWallet(t *testing.T) {
	base := Breakdown{Cost: 200000, MemberResponsibility: 120000, EmployerResponsibility: 80000, OOPApplied: 120000}

	t.Run("balance covers employer share", func(t *testing.T) {
		b, err := ApplyWallet(base, 100000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b.EmployerResponsibility != 80000 || b.OverageAmount != 0 {
			t.Errorf("employer = %d overage = %d", b.EmployerResponsibility, b.OverageAmount)
		}
		if b.BeginningWalletBalance != 100000 || b.EndingWalletBalance != 20000 {
			t.Errorf("balances = %d -> %d", b.BeginningWalletBalance, b.EndingWalletBalance)
		}
	})

	t.Run("overage moves to member", func(t *testing.T) {
		b, err := ApplyWallet(base, 50000)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b.OverageAmount != 30000 {
			t.Errorf("overage = %d, want 30000", b.OverageAmount)
		}
		if b.MemberResponsibility != 150000 || b.EmployerResponsibility != 50000 {
			t.Errorf("member = %d employer = %d", b.MemberResponsibility, b.EmployerResponsibility)
		}
		if b.EndingWalletBalance != 0 {
			t.Errorf("ending balance = %d, want 0", b.EndingWalletBalance)
		}
		if b.OOPApplied != 120000 {
			t.Errorf("overage must not accumulate, oop applied = %d", b.OOPApplied)
		}
	})

	t.Run("negative balance", func(t *testing.T) {
		if _, err := ApplyWallet(base, -1); err == nil {
			t.Error("expected error")
		}
	})
}
