package wallet

import (
	"context"

	"github.com/google/uuid"
)

type WalletRepository interface {
	Create(ctx context.Context, w *Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*Wallet, error)
	UpdateState(ctx context.Context, id uuid.UUID, state string) error
	ListByMember(ctx context.Context, memberID uuid.UUID) ([]*Wallet, error)
	CreateCategory(ctx context.Context, c *Category) error
	ListCategories(ctx context.Context, walletID uuid.UUID) ([]*Category, error)
}

type RequestRepository interface {
	Create(ctx context.Context, r *ReimbursementRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*ReimbursementRequest, error)
	Update(ctx context.Context, r *ReimbursementRequest) error
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*ReimbursementRequest, int, error)
	// ListCharged returns the wallet's approved and reimbursed requests.
	ListCharged(ctx context.Context, walletID uuid.UUID) ([]*ReimbursementRequest, error)
}

type ProcedureRepository interface {
	Create(ctx context.Context, p *TreatmentProcedure) error
	GetByID(ctx context.Context, id uuid.UUID) (*TreatmentProcedure, error)
	Update(ctx context.Context, p *TreatmentProcedure) error
	ListByWallet(ctx context.Context, walletID uuid.UUID) ([]*TreatmentProcedure, error)
	ListByMember(ctx context.Context, memberID uuid.UUID, limit, offset int) ([]*TreatmentProcedure, int, error)
}

type BillRepository interface {
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	Update(ctx context.Context, b *Bill) error
	ListByProcedure(ctx context.Context, procedureID uuid.UUID) ([]*Bill, error)
}
