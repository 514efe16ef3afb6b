package progress

import (
	"sync"
	"time"

	"wb_scraper/models"
)

// Reporter holds the single progress record of the process. Every mutation
// replaces the whole record, so readers never see a half-updated state.
type Reporter struct {
	mu    sync.RWMutex
	state models.ProgressState
	loc   *time.Location
	now   func() time.Time
}

func New(loc *time.Location) *Reporter {
	if loc == nil {
		loc = time.UTC
	}
	r := &Reporter{loc: loc, now: time.Now}
	r.Idle("Ready")
	return r
}

func (r *Reporter) Snapshot() models.ProgressState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Reporter) IsRunning() bool {
	return r.Snapshot().IsRunning
}

func (r *Reporter) Start(runID string, total int, message string) {
	r.set(models.ProgressState{
		IsRunning: true,
		Total:     total,
		Message:   message,
		RunID:     runID,
	})
}

// Batch marks the start of a batch; marker is shown in place of an identifier.
func (r *Reporter) Batch(done, total int, marker, message string) {
	r.update(func(s *models.ProgressState) {
		s.IsRunning = true
		s.Progress = done
		s.Total = total
		s.CurrentSubscription = marker
		s.Message = message
	})
}

func (r *Reporter) Advance(done, total int, identifier, message string) {
	r.update(func(s *models.ProgressState) {
		s.IsRunning = true
		s.Progress = done
		s.Total = total
		s.CurrentSubscription = identifier
		s.Message = message
	})
}

func (r *Reporter) Finish(total int, message string) {
	r.update(func(s *models.ProgressState) {
		*s = models.ProgressState{
			Progress: total,
			Total:    total,
			Message:  message,
			RunID:    s.RunID,
		}
	})
}

func (r *Reporter) Fail(message string) {
	r.update(func(s *models.ProgressState) {
		*s = models.ProgressState{Message: message, RunID: s.RunID}
	})
}

func (r *Reporter) Idle(message string) {
	r.set(models.ProgressState{Message: message})
}

func (r *Reporter) set(s models.ProgressState) {
	r.update(func(cur *models.ProgressState) { *cur = s })
}

func (r *Reporter) update(fn func(*models.ProgressState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.state
	fn(&next)
	next.LastUpdate = r.now().In(r.loc).Format(time.RFC3339)
	r.state = next
}
