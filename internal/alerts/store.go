package alerts

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"alertengine/internal/ratelimit"
	"alertengine/pkg/models"
)

// admission is the outcome of offering a new alert to the store.
type admission int

const (
	admitted admission = iota
	suppressedDedup
	suppressedRateLimit
)

// Store holds every alert and the dispatch ledger behind one lock. Alerts
// leave the store only as clones. seen holds, per metric, the newest
// anomalous sample time already offered for alerting.
type Store struct {
	mu      sync.Mutex
	byID    map[string]*models.Alert
	open    map[models.DedupKey]string
	order   []string
	seen    map[string]time.Time
	limiter *ratelimit.Limiter
	now     func() time.Time
}

// NewStore creates an empty store whose ledger allows maxPerHour dispatches.
func NewStore(maxPerHour int, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		byID:    make(map[string]*models.Alert),
		open:    make(map[models.DedupKey]string),
		seen:    make(map[string]time.Time),
		limiter: ratelimit.New(ratelimit.Config{Max: maxPerHour, Window: time.Hour, Now: now}),
		now:     now,
	}
}

// Limiter exposes the dispatch ledger.
func (s *Store) Limiter() *ratelimit.Limiter {
	return s.limiter
}

// admit inserts a unless an open alert already holds its dedup key or the
// hourly ceiling is reached. Both checks and the insert are one atomic step.
func (s *Store) admit(a *models.Alert) (admission, *models.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := a.Key()
	if id, ok := s.open[key]; ok {
		return suppressedDedup, s.byID[id].Clone()
	}
	if !s.limiter.Check() {
		return suppressedRateLimit, nil
	}

	s.byID[a.ID] = a
	s.open[key] = a.ID
	s.order = append(s.order, a.ID)
	s.limiter.Record(s.now())
	return admitted, a.Clone()
}

// claimAnomalies returns the results newer than the metric's watermark and
// moves the watermark to the newest of them. Results without a timestamp are
// always returned.
func (s *Store) claimAnomalies(metric string, results []models.AnomalyResult) []models.AnomalyResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	mark := s.seen[metric]
	var out []models.AnomalyResult
	for _, r := range results {
		if r.Timestamp.IsZero() {
			out = append(out, r)
			continue
		}
		if !r.Timestamp.After(mark) {
			continue
		}
		out = append(out, r)
		if r.Timestamp.After(s.seen[metric]) {
			s.seen[metric] = r.Timestamp
		}
	}
	return out
}

func (s *Store) acknowledge(id, user string, at time.Time) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if a.Status != models.StatusActive {
		return nil, fmt.Errorf("%w: cannot acknowledge %s alert %s", ErrInvalidAlertTransition, a.Status, id)
	}
	a.Status = models.StatusAcknowledged
	a.AcknowledgedBy = user
	a.AcknowledgedAt = &at
	return a.Clone(), nil
}

func (s *Store) resolve(id, notes string, at time.Time) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	return s.resolveLocked(a, notes, at)
}

// resolveKey resolves the open alert for key, if there is one.
func (s *Store) resolveKey(key models.DedupKey, notes string, at time.Time) (*models.Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.open[key]
	if !ok {
		return nil, false
	}
	a, err := s.resolveLocked(s.byID[id], notes, at)
	if err != nil {
		return nil, false
	}
	return a, true
}

func (s *Store) resolveLocked(a *models.Alert, notes string, at time.Time) (*models.Alert, error) {
	if !a.Status.Open() {
		return nil, fmt.Errorf("%w: cannot resolve %s alert %s", ErrInvalidAlertTransition, a.Status, a.ID)
	}
	a.Status = models.StatusResolved
	a.ResolvedAt = &at
	if notes = strings.TrimSpace(notes); notes != "" {
		if a.ResolutionNotes != "" {
			a.ResolutionNotes += "\n"
		}
		a.ResolutionNotes += notes
	}
	delete(s.open, a.Key())
	return a.Clone(), nil
}

// markEscalations stamps every ACTIVE alert triggered before cutoff as
// escalated once more and returns them.
func (s *Store) markEscalations(cutoff, at time.Time) []*models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Alert
	for _, id := range s.order {
		a := s.byID[id]
		if a.Status != models.StatusActive || !a.TriggeredAt.Before(cutoff) {
			continue
		}
		a.EscalationCount++
		stamp := at
		a.LastEscalatedAt = &stamp
		out = append(out, a.Clone())
	}
	return out
}

func (s *Store) appendDeliveries(id string, recs []models.DeliveryRecord) {
	if len(recs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.byID[id]; ok {
		a.Deliveries = append(a.Deliveries, recs...)
	}
}

// Get returns a copy of the alert.
func (s *Store) Get(id string) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	return a.Clone(), nil
}

// List returns copies in creation order, optionally restricted to statuses.
func (s *Store) List(statuses ...models.Status) []*models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Alert, 0, len(s.order))
	for _, id := range s.order {
		a := s.byID[id]
		if len(statuses) > 0 && !hasStatus(statuses, a.Status) {
			continue
		}
		out = append(out, a.Clone())
	}
	return out
}

// OpenCount returns the number of active or acknowledged alerts.
func (s *Store) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

func hasStatus(statuses []models.Status, st models.Status) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}
