package domain

// Outcome is the structured result of an assignment attempt, reported to the
// trigger's caller. Every value is a defined terminal answer, not an error:
// eligibility exhaustion cancels the task and tells the caller why instead of
// leaving it pending forever.
type Outcome string

const (
	// OutcomeAssigned means the queue was persisted and the head candidate
	// notified.
	OutcomeAssigned Outcome = "assigned"
	// OutcomeAlreadyAssigned means another trigger already claimed the slot;
	// the call was an idempotent no-op.
	OutcomeAlreadyAssigned Outcome = "already_assigned"
	// OutcomeNoEligibleRunners means the pool was empty after the
	// availability, presence, and exclusion filters.
	OutcomeNoEligibleRunners Outcome = "no_eligible_runners"
	// OutcomeNoRunnersWithinDistance means runners survived filtering but
	// none were inside the hard distance cutoff, or the requester has no
	// usable location.
	OutcomeNoRunnersWithinDistance Outcome = "no_runners_within_distance"
	// OutcomeNoRunnerToAssign means ranking produced zero candidates.
	OutcomeNoRunnerToAssign Outcome = "no_runner_to_assign"
	// OutcomeAssignmentFailed means the conditional update lost to a
	// concurrent writer and the re-check could not explain the row's state.
	OutcomeAssignmentFailed Outcome = "assignment_failed"
)

// Cancels reports whether the outcome terminates the task.
func (o Outcome) Cancels() bool {
	switch o {
	case OutcomeNoEligibleRunners, OutcomeNoRunnersWithinDistance, OutcomeNoRunnerToAssign:
		return true
	}
	return false
}
