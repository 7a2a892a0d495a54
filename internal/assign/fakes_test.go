package assign

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/campusrun/dispatch/internal/domain"
)

// fakeTaskStore emulates the conditional-update semantics of the real store:
// every CAS method checks its WHERE clause against the stored row and reports
// whether it won. beforeCAS, when set, runs just before a conditional update
// evaluates its preconditions, letting tests interleave a concurrent actor
// between the engine's read and its write.
type fakeTaskStore struct {
	mu        sync.Mutex
	rows      map[string]*domain.Task
	beforeCAS func(rows map[string]*domain.Task)
	getErr    error
	casErr    error
	// failTask makes every CAS against that one task return failErr.
	failTask string
	failErr  error
}

func newFakeTaskStore(tasks ...*domain.Task) *fakeTaskStore {
	s := &fakeTaskStore{rows: make(map[string]*domain.Task)}
	for _, t := range tasks {
		s.rows[t.ID] = cloneTask(t)
	}
	return s
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	c.Categories = append([]string(nil), t.Categories...)
	c.RankedRunnerIDs = append([]string(nil), t.RankedRunnerIDs...)
	c.TimeoutRunnerIDs = append([]string(nil), t.TimeoutRunnerIDs...)
	return &c
}

func (s *fakeTaskStore) snapshot(id string) *domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.rows[id]; ok {
		return cloneTask(t)
	}
	return nil
}

func (s *fakeTaskStore) Create(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[task.ID] = cloneTask(task)
	return nil
}

func (s *fakeTaskStore) GetByID(_ context.Context, id string) (*domain.Task, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[id]
	if !ok {
		return nil, &domain.TaskNotFoundError{TaskID: id}
	}
	return cloneTask(t), nil
}

func (s *fakeTaskStore) runCAS(taskID string, update func(rows map[string]*domain.Task) bool) (bool, error) {
	if s.casErr != nil {
		return false, s.casErr
	}
	if s.failErr != nil && taskID == s.failTask {
		return false, s.failErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beforeCAS != nil {
		hook := s.beforeCAS
		s.beforeCAS = nil
		hook(s.rows)
	}
	return update(s.rows), nil
}

func (s *fakeTaskStore) ClaimAssignment(_ context.Context, taskID string, queue []string, head string, now, expires time.Time) (bool, error) {
	return s.runCAS(taskID, func(rows map[string]*domain.Task) bool {
		t, ok := rows[taskID]
		if !ok || t.Status != domain.StatusPending || t.NotifiedRunnerID != nil || t.RunnerID != nil {
			return false
		}
		t.RankedRunnerIDs = append([]string(nil), queue...)
		t.CurrentQueueIndex = 0
		t.NotifiedRunnerID = &head
		t.NotifiedAt = &now
		t.NotifiedExpiresAt = &expires
		t.UpdatedAt = now
		return true
	})
}

func (s *fakeTaskStore) CancelUnassigned(_ context.Context, taskID string, now time.Time) (bool, error) {
	return s.runCAS(taskID, func(rows map[string]*domain.Task) bool {
		t, ok := rows[taskID]
		if !ok || t.Status != domain.StatusPending || t.NotifiedRunnerID != nil || t.RunnerID != nil {
			return false
		}
		t.Status = domain.StatusCancelled
		t.RankedRunnerIDs = nil
		t.CurrentQueueIndex = 0
		t.NotifiedRunnerID = nil
		t.NotifiedAt = nil
		t.NotifiedExpiresAt = nil
		t.UpdatedAt = now
		return true
	})
}

func (s *fakeTaskStore) ListExpiredOffers(_ context.Context, cutoff time.Time, limit int) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Task
	for _, t := range s.rows {
		if t.Status == domain.StatusPending && t.RunnerID == nil &&
			t.NotifiedRunnerID != nil && t.NotifiedAt != nil && t.NotifiedAt.Before(cutoff) {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NotifiedAt.Before(*out[j].NotifiedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeTaskStore) AdvanceOffer(_ context.Context, taskID, prevNotified, nextNotified string, nextIndex int, timeouts []string, now, expires time.Time) (bool, error) {
	return s.runCAS(taskID, func(rows map[string]*domain.Task) bool {
		t, ok := rows[taskID]
		if !ok || t.Status != domain.StatusPending || t.RunnerID != nil ||
			t.NotifiedRunnerID == nil || *t.NotifiedRunnerID != prevNotified {
			return false
		}
		t.NotifiedRunnerID = &nextNotified
		t.NotifiedAt = &now
		t.NotifiedExpiresAt = &expires
		t.CurrentQueueIndex = nextIndex
		t.TimeoutRunnerIDs = append([]string(nil), timeouts...)
		t.UpdatedAt = now
		return true
	})
}

func (s *fakeTaskStore) CancelExhausted(_ context.Context, taskID, prevNotified string, nextIndex int, timeouts []string, now time.Time) (bool, error) {
	return s.runCAS(taskID, func(rows map[string]*domain.Task) bool {
		t, ok := rows[taskID]
		if !ok || t.Status != domain.StatusPending || t.RunnerID != nil ||
			t.NotifiedRunnerID == nil || *t.NotifiedRunnerID != prevNotified {
			return false
		}
		t.Status = domain.StatusCancelled
		t.NotifiedRunnerID = nil
		t.NotifiedAt = nil
		t.NotifiedExpiresAt = nil
		t.CurrentQueueIndex = nextIndex
		t.TimeoutRunnerIDs = append([]string(nil), timeouts...)
		t.UpdatedAt = now
		return true
	})
}

func (s *fakeTaskStore) RetargetOffer(_ context.Context, taskID, prevNotified, nextNotified string, timeouts []string, now, expires time.Time) (bool, error) {
	return s.runCAS(taskID, func(rows map[string]*domain.Task) bool {
		t, ok := rows[taskID]
		if !ok || t.Status != domain.StatusPending || t.RunnerID != nil ||
			t.NotifiedRunnerID == nil || *t.NotifiedRunnerID != prevNotified {
			return false
		}
		t.NotifiedRunnerID = &nextNotified
		t.NotifiedAt = &now
		t.NotifiedExpiresAt = &expires
		t.TimeoutRunnerIDs = append([]string(nil), timeouts...)
		t.UpdatedAt = now
		return true
	})
}

type fakeRunnerStore struct {
	runners []domain.Runner
	err     error
}

func (s *fakeRunnerStore) ListAvailable(_ context.Context) ([]domain.Runner, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.Runner(nil), s.runners...), nil
}

func (s *fakeRunnerStore) GetByID(_ context.Context, id string) (*domain.Runner, error) {
	for i := range s.runners {
		if s.runners[i].ID == id {
			r := s.runners[i]
			return &r, nil
		}
	}
	return nil, &domain.RunnerNotFoundError{RunnerID: id}
}

type fakeHistory struct {
	byRunner map[string][]domain.CategoryCount
	totals   map[string]int
}

func (f *fakeHistory) CompletedCategories(_ context.Context, runnerID string, _ domain.Kind) ([]domain.CategoryCount, int, error) {
	return f.byRunner[runnerID], f.totals[runnerID], nil
}

type sentMessage struct {
	channel string
	event   string
	payload any
}

type fakeSink struct {
	mu       sync.Mutex
	sent     []sentMessage
	failures int // reject this many sends before accepting
	err      error
}

func (f *fakeSink) Send(_ context.Context, channel, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("transient sink error")
	}
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{channel, event, payload})
	return nil
}

func (f *fakeSink) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeProducer struct {
	mu     sync.Mutex
	events []*domain.Event
	err    error
}

func (f *fakeProducer) PublishEvent(_ context.Context, ev *domain.Event) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeProducer) Close() error { return nil }
