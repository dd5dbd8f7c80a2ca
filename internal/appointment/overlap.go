package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// OverlapValidator checks the per-practitioner and per-nurse non-overlap
// invariant before a session is written. The store enforces the same rule
// again at write time, so a race between two validators still cannot
// produce overlapping sessions.
type OverlapValidator struct {
	sessions SessionStore
}

func NewOverlapValidator(sessions SessionStore) *OverlapValidator {
	return &OverlapValidator{sessions: sessions}
}

// Check returns *OverlappingSessionError naming the conflicting sessions,
// practitioner first. exclude is the session being updated, if any.
func (v *OverlapValidator) Check(ctx context.Context, practitionerID uuid.UUID, nurseID *uuid.UUID, w Window, exclude *uuid.UUID) error {
	if err := v.checkOne(ctx, ResourcePractitioner, practitionerID, w, exclude); err != nil {
		return err
	}
	if nurseID != nil {
		return v.checkOne(ctx, ResourceNurse, *nurseID, w, exclude)
	}
	return nil
}

func (v *OverlapValidator) checkOne(ctx context.Context, kind Resource, id uuid.UUID, w Window, exclude *uuid.UUID) error {
	q := ResourceQuery{Window: w, ExcludeID: exclude}
	if kind == ResourcePractitioner {
		q.PractitionerID = &id
	} else {
		q.NurseID = &id
	}

	candidates, err := v.sessions.FindSessionsFor(ctx, q)
	if err != nil {
		return fmt.Errorf("find %s sessions: %w", kind, err)
	}

	conflicts := ConflictingSessions(candidates, kind, id, w, exclude)
	if len(conflicts) > 0 {
		return &OverlappingSessionError{Resource: kind, ResourceID: id, Conflicting: conflicts}
	}
	return nil
}

// ConflictingSessions filters sessions down to non-cancelled ones held by
// the resource whose window overlaps w.
func ConflictingSessions(sessions []Session, kind Resource, id uuid.UUID, w Window, exclude *uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for i := range sessions {
		s := &sessions[i]
		if s.Status == SessionCancelled {
			continue
		}
		if exclude != nil && s.ID == *exclude {
			continue
		}
		switch kind {
		case ResourcePractitioner:
			if s.PractitionerID != id {
				continue
			}
		case ResourceNurse:
			if s.NurseID == nil || *s.NurseID != id {
				continue
			}
		}
		if s.Window().Overlaps(w) {
			out = append(out, s.ID)
		}
	}
	return out
}
