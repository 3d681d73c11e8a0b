package costbreakdown

import (
	"time"

	"github.com/google/uuid"
)

// CostBreakdown is a persisted Breakdown for one treatment procedure. A
// procedure may be recalculated; the latest row is the one linked from the
// procedure.
type CostBreakdown struct {
	ID                   uuid.UUID  `json:"id"`
	TreatmentProcedureID uuid.UUID  `json:"treatment_procedure_id"`
	WalletID             uuid.UUID  `json:"wallet_id"`
	MemberHealthPlanID   *uuid.UUID `json:"member_health_plan_id,omitempty"`
	Breakdown
	CreatedAt time.Time `json:"created_at"`
}
