// Package challenge models the evidence request that starts an
// adjudication run.
package challenge

import (
	"fmt"

	apperrors "github.com/rplusq/run-judge/internal/platform/errors"
)

// EvidenceRequest identifies the challenge under adjudication and the
// two platform activities submitted as evidence. Immutable once built.
type EvidenceRequest struct {
	ChallengeID    int64
	ActivityIDs    [2]int64
	DistanceMeters int64
}

// NewEvidenceRequest validates and constructs an EvidenceRequest.
// DistanceMeters may be zero: adjudication then normalizes to the
// shorter activity instead of a nominal challenge distance.
func NewEvidenceRequest(challengeID int64, activityIDs [2]int64, distanceMeters int64) (EvidenceRequest, error) {
	if challengeID <= 0 {
		return EvidenceRequest{}, apperrors.New(apperrors.CodeChallengeInvalidID,
			fmt.Sprintf("challenge id must be positive, got %d", challengeID))
	}
	for _, id := range activityIDs {
		if id <= 0 {
			return EvidenceRequest{}, apperrors.New(apperrors.CodeChallengeInvalidActivities,
				fmt.Sprintf("activity id must be positive, got %d", id))
		}
	}
	if activityIDs[0] == activityIDs[1] {
		return EvidenceRequest{}, apperrors.New(apperrors.CodeChallengeInvalidActivities,
			fmt.Sprintf("activity ids must be distinct, got %d twice", activityIDs[0]))
	}
	if distanceMeters < 0 {
		return EvidenceRequest{}, apperrors.New(apperrors.CodeChallengeInvalidActivities,
			fmt.Sprintf("challenge distance must not be negative, got %d", distanceMeters))
	}
	return EvidenceRequest{
		ChallengeID:    challengeID,
		ActivityIDs:    activityIDs,
		DistanceMeters: distanceMeters,
	}, nil
}

// Contains reports whether activityID is one of the submitted pair.
func (r EvidenceRequest) Contains(activityID int64) bool {
	return activityID == r.ActivityIDs[0] || activityID == r.ActivityIDs[1]
}
