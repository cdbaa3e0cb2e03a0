package consent

import (
	"context"
	"fmt"
	"time"

	"github.com/carebridge/portal/internal/platform/apperr"
)

// Enforcer answers the single authorization question the record endpoints
// ask: may this requester see this patient's data of this category right
// now. It evaluates live consent grants; it never looks at stored status
// without projecting expiry.
type Enforcer struct {
	repo Repository
}

func NewEnforcer(repo Repository) *Enforcer {
	return &Enforcer{repo: repo}
}

// CanAccess returns nil when at least one approved, unexpired consent from
// patientID to requesterID grants dataType. Patients always pass for their
// own data. Any other outcome is ErrAccessDenied, never an empty result.
func (e *Enforcer) CanAccess(ctx context.Context, requesterID, patientID string, dataType DataType, now time.Time) error {
	if requesterID == patientID {
		return nil
	}
	grants, err := e.ActiveGrants(ctx, requesterID, patientID, now)
	if err != nil {
		return err
	}
	for _, g := range grants {
		if g.Granted(dataType) {
			return nil
		}
	}
	return fmt.Errorf("no active consent for %s data of this patient: %w", dataType, apperr.ErrAccessDenied)
}

// ActiveGrants returns every consent from patientID to requesterID that is
// approved and unexpired as of now.
func (e *Enforcer) ActiveGrants(ctx context.Context, requesterID, patientID string, now time.Time) ([]*ConsentRequest, error) {
	reqs, err := e.repo.ListByPair(ctx, patientID, requesterID)
	if err != nil {
		return nil, err
	}
	var active []*ConsentRequest
	for _, r := range reqs {
		if r.EffectiveStatus(now) == StatusApproved {
			active = append(active, r)
		}
	}
	return active, nil
}

// CoveringWindow reports whether any of the given grants covers a record
// of the given category dated recordDate. Used to filter list results down
// to the consented date window.
func CoveringWindow(grants []*ConsentRequest, dataType DataType, recordDate time.Time) bool {
	for _, g := range grants {
		if g.Granted(dataType) && g.CoversDate(recordDate) {
			return true
		}
	}
	return false
}
