package domain

import "fmt"

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// RunnerNotFoundError is returned when a runner ID does not exist.
type RunnerNotFoundError struct {
	RunnerID string
}

func (e *RunnerNotFoundError) Error() string {
	return fmt.Sprintf("runner not found: %s", e.RunnerID)
}

// InvalidTaskStateError is returned when a task's row is in a state the
// assignment protocol cannot explain, e.g. a conditional update affected zero
// rows but a re-check shows the row still unassigned.
type InvalidTaskStateError struct {
	TaskID string
	Status Status
	Detail string
}

func (e *InvalidTaskStateError) Error() string {
	return fmt.Sprintf("task %s in unexpected state %s: %s", e.TaskID, e.Status, e.Detail)
}

// RateLimitExceededError is returned when a requester exceeds the task
// creation rate limit.
type RateLimitExceededError struct {
	RequesterID string
	Limit       int
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for requester %q: limit is %d", e.RequesterID, e.Limit)
}
