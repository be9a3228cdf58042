package profile

import "github.com/techdev-loop/leaderboard-sub002/internal/model"

var forwardRank = map[model.ProfileStatus]int{
	model.StatusNew:                 0,
	model.StatusLearning:            1,
	model.StatusPendingVerification: 2,
	model.StatusVerified:            3,
}

// CanTransition reports whether a profile may move from one status to
// another without an explicit reset. The learning path only moves forward;
// any unflagged status may be flagged or marked layout_changed; a layout_changed
// profile may re-enter the learning path; a flagged profile may only leave
// through ResetForRelearning.
func CanTransition(from, to model.ProfileStatus) bool {
	if from == to {
		return true
	}
	if from == model.StatusFlaggedForReview {
		return false
	}
	switch to {
	case model.StatusFlaggedForReview, model.StatusLayoutChanged:
		return true
	}
	if from == model.StatusLayoutChanged {
		return to != model.StatusNew
	}
	fr, ok1 := forwardRank[from]
	tr, ok2 := forwardRank[to]
	return ok1 && ok2 && tr > fr
}
