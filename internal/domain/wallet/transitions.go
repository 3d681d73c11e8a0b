package wallet

import "github.com/samber/lo"

// requestTransitions lists the states a reimbursement request may move to.
var requestTransitions = map[string][]string{
	RequestNew:          {RequestPending, RequestNeedsReceipt},
	RequestPending:      {RequestApproved, RequestDenied, RequestNeedsReceipt},
	RequestNeedsReceipt: {RequestPending},
	RequestApproved:     {RequestReimbursed, RequestFailed},
	RequestFailed:       {RequestApproved},
	RequestReimbursed:   {RequestRefunded},
}

var billTransitions = map[string][]string{
	BillNew:        {BillProcessing, BillCancelled},
	BillProcessing: {BillPaid, BillFailed},
	BillFailed:     {BillProcessing},
	BillPaid:       {BillRefunded},
}

var validWalletStates = map[string]bool{
	WalletPending: true, WalletQualified: true, WalletDisqualified: true,
	WalletExpired: true, WalletRunout: true,
}

func canTransition(table map[string][]string, from, to string) bool {
	return lo.Contains(table[from], to)
}
