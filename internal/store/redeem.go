package store

import (
	"crypto/subtle"
	"time"

	"github.com/jun/gophsync/internal/model"
)

// CheckRedeemable is the single validity rule shared by all backends: the
// invite must be usable at now and the code hash must match.
func CheckRedeemable(inv *model.Invite, codeHash string, now time.Time) error {
	if inv == nil || !inv.Usable(now) {
		return ErrInviteInvalid
	}
	if subtle.ConstantTimeCompare([]byte(inv.CodeHash), []byte(codeHash)) != 1 {
		return ErrInviteInvalid
	}
	return nil
}

// Redeem computes the membership that results from redeeming inv. existing
// may be nil. consumed is false when the user already holds an active
// membership, in which case no use of the invite is spent.
func Redeem(inv *model.Invite, existing *model.Member, req ConsumeRequest) (m model.Member, consumed bool) {
	if existing.Active() {
		return *existing, false
	}
	if existing != nil {
		m = *existing
		m.RemovedAt = nil
		m.Role = inv.Role
		m.CanInvite = false
		m.JoinedAt = req.Now
		return m, true
	}
	return model.Member{
		ID:          req.MemberID,
		WorkspaceID: inv.WorkspaceID,
		UserID:      req.UserID,
		Role:        inv.Role,
		JoinedAt:    req.Now,
	}, true
}
