package intakeoutput

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Service hands out one Ledger per patient-day and derives aggregates and
// metrics from ledger snapshots on every call. Ledgers lock independently,
// so writes to different patient-days never contend.
type Service struct {
	registry *Registry
	store    Store

	mu      sync.Mutex
	ledgers map[FlowsheetKey]*cachedLedger
	loads   singleflight.Group
	now     func() time.Time

	publisher     Publisher
	logger        zerolog.Logger
	urineCategory string
	urineTarget   float64
	goal          GoalRange
}

// cachedLedger is a loaded patient-day. refs counts calls currently using
// it; a pinned ledger is never evicted.
type cachedLedger struct {
	ledger   *Ledger
	refs     int
	lastUsed time.Time
}

func NewService(registry *Registry, store Store) *Service {
	return &Service{
		registry:      registry,
		store:         store,
		ledgers:       make(map[FlowsheetKey]*cachedLedger),
		now:           time.Now,
		logger:        zerolog.Nop(),
		urineCategory: DefaultUrineCategory,
		urineTarget:   DefaultUrineTarget,
		goal:          DefaultGoal,
	}
}

// SetPublisher attaches an optional change-event publisher.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

// SetLogger replaces the default no-op logger.
func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l
}

// SetUrineCategory selects the category the urine rate is computed from.
func (s *Service) SetUrineCategory(id string) error {
	if _, err := s.registry.Get(id); err != nil {
		return err
	}
	s.urineCategory = id
	return nil
}

// SetUrineTarget sets the mL/kg/hr threshold used by the summary.
func (s *Service) SetUrineTarget(target float64) {
	s.urineTarget = target
}

// SetDefaultGoal sets the balance goal used when a caller supplies none.
func (s *Service) SetDefaultGoal(g GoalRange) error {
	if err := g.Validate(); err != nil {
		return err
	}
	s.goal = g
	return nil
}

func (s *Service) DefaultGoal() GoalRange {
	return s.goal
}

func (s *Service) UrineCategory() string {
	return s.urineCategory
}

func (s *Service) Registry() *Registry {
	return s.registry
}

// Categories lists the registry, optionally filtered by kind.
func (s *Service) Categories(kinds ...Kind) []Category {
	return s.registry.List(kinds...)
}

// LedgerCount is the number of patient-day ledgers held in memory.
func (s *Service) LedgerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ledgers)
}

// Ledger returns the cached ledger for key, loading it from the store on
// first use. With a store configured the ledger may be evicted once idle, so
// callers must not hold on to it.
func (s *Service) Ledger(ctx context.Context, key FlowsheetKey) (*Ledger, error) {
	l, release, err := s.acquire(ctx, key, true)
	if err != nil {
		return nil, err
	}
	release()
	return l, nil
}

// acquire returns key's ledger pinned against eviction until release is
// called. A day with entries is always cached. An empty day is cached only
// when keep is set, so reads of unknown patient-days hold no memory.
// Concurrent loads of the same key share one store read.
func (s *Service) acquire(ctx context.Context, key FlowsheetKey, keep bool) (*Ledger, func(), error) {
	s.mu.Lock()
	if c, ok := s.ledgers[key]; ok {
		release := s.pinLocked(c)
		s.mu.Unlock()
		return c.ledger, release, nil
	}
	s.mu.Unlock()

	v, err, _ := s.loads.Do(key.String(), func() (interface{}, error) {
		s.mu.Lock()
		if c, ok := s.ledgers[key]; ok {
			s.mu.Unlock()
			return c.ledger, nil
		}
		s.mu.Unlock()

		l := NewLedger(key, s.registry, s.store)
		if s.store == nil {
			return l, nil
		}
		entries, err := s.store.Load(ctx, key)
		if err != nil {
			return nil, &PersistenceError{Op: "load", Err: err}
		}
		if err := l.restore(entries); err != nil {
			return nil, &PersistenceError{Op: "load", Err: err}
		}
		if len(entries) > 0 {
			s.mu.Lock()
			if _, ok := s.ledgers[key]; !ok {
				s.ledgers[key] = &cachedLedger{ledger: l, lastUsed: s.now()}
			}
			s.mu.Unlock()
		}
		return l, nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("flowsheet", key.String()).Msg("load ledger")
		return nil, nil, err
	}
	loaded := v.(*Ledger)

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.ledgers[key]; ok {
		return c.ledger, s.pinLocked(c), nil
	}
	if !keep && loaded.Empty() {
		return loaded, func() {}, nil
	}
	c := &cachedLedger{ledger: loaded}
	s.ledgers[key] = c
	return loaded, s.pinLocked(c), nil
}

// pinLocked must be called with s.mu held.
func (s *Service) pinLocked(c *cachedLedger) func() {
	c.refs++
	c.lastUsed = s.now()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			c.refs--
			c.lastUsed = s.now()
			s.mu.Unlock()
		})
	}
}

// EvictIdle drops cached ledgers that no call is using and that have been
// idle for at least idle. The store holds every committed entry, so an
// evicted day is reloaded on its next use. Without a store the ledgers are
// the only copy and nothing is evicted.
func (s *Service) EvictIdle(idle time.Duration) int {
	if s.store == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, c := range s.ledgers {
		if c.refs == 0 && now.Sub(c.lastUsed) >= idle {
			delete(s.ledgers, k)
			n++
		}
	}
	return n
}

// RunEviction calls EvictIdle every interval until ctx is done.
func (s *Service) RunEviction(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(idle); n > 0 {
				s.logger.Debug().Int("evicted", n).Int("cached", s.LedgerCount()).Msg("evicted idle ledgers")
			}
		}
	}
}

// Write records one measurement and publishes the change.
func (s *Service) Write(ctx context.Context, key FlowsheetKey, in WriteInput) (Entry, error) {
	l, release, err := s.acquire(ctx, key, true)
	if err != nil {
		return Entry{}, err
	}
	defer release()
	e, err := l.Write(ctx, in)
	if err != nil {
		s.logFailure(err, key, "write")
		return Entry{}, err
	}

	evt := newBucketChanged(ActionWrite, key)
	evt.CategoryID = e.CategoryID
	evt.Hour = ptr(e.Hour)
	evt.Entry = ptr(e)
	s.publish(ctx, evt)
	return e, nil
}

// Read returns one bucket; the bool is false when it is empty.
func (s *Service) Read(ctx context.Context, key FlowsheetKey, categoryID string, hour int) (Entry, bool, error) {
	l, release, err := s.acquire(ctx, key, false)
	if err != nil {
		return Entry{}, false, err
	}
	defer release()
	return l.Read(categoryID, hour)
}

// Delete empties one bucket. Deleting an empty bucket is a no-op and
// publishes nothing.
func (s *Service) Delete(ctx context.Context, key FlowsheetKey, categoryID string, hour int) (bool, error) {
	l, release, err := s.acquire(ctx, key, false)
	if err != nil {
		return false, err
	}
	defer release()
	deleted, err := l.Delete(ctx, categoryID, hour)
	if err != nil {
		s.logFailure(err, key, "delete")
		return false, err
	}
	if deleted {
		evt := newBucketChanged(ActionDelete, key)
		evt.CategoryID = categoryID
		evt.Hour = ptr(hour)
		s.publish(ctx, evt)
	}
	return deleted, nil
}

// Clear empties the whole patient-day.
func (s *Service) Clear(ctx context.Context, key FlowsheetKey) error {
	l, release, err := s.acquire(ctx, key, false)
	if err != nil {
		return err
	}
	defer release()
	if err := l.Clear(ctx); err != nil {
		s.logFailure(err, key, "clear")
		return err
	}
	s.publish(ctx, newBucketChanged(ActionClear, key))
	return nil
}

func (s *Service) Snapshot(ctx context.Context, key FlowsheetKey) (Snapshot, error) {
	l, release, err := s.acquire(ctx, key, false)
	if err != nil {
		return Snapshot{}, err
	}
	defer release()
	return l.Snapshot(), nil
}

// Aggregate recomputes the rollup from a fresh snapshot.
func (s *Service) Aggregate(ctx context.Context, key FlowsheetKey) (AggregateSnapshot, error) {
	snap, err := s.Snapshot(ctx, key)
	if err != nil {
		return AggregateSnapshot{}, err
	}
	return Aggregate(snap), nil
}

// ListEntries pages through the set buckets in flowsheet order.
func (s *Service) ListEntries(ctx context.Context, key FlowsheetKey, limit, offset int) ([]Entry, int, error) {
	snap, err := s.Snapshot(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	all := snap.Entries()
	total := len(all)
	if offset >= total {
		return []Entry{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// UrineRate is the 24-hour urine rate for key. ErrUnavailable means no usable weight.
func (s *Service) UrineRate(ctx context.Context, key FlowsheetKey, weightKg float64) (float64, error) {
	agg, err := s.Aggregate(ctx, key)
	if err != nil {
		return 0, err
	}
	return ComputeUrineRate(agg, s.urineCategory, weightKg)
}

// ShiftUrineRate is the urine rate over one shift.
func (s *Service) ShiftUrineRate(ctx context.Context, key FlowsheetKey, sh Shift, weightKg float64) (float64, error) {
	agg, err := s.Aggregate(ctx, key)
	if err != nil {
		return 0, err
	}
	return ComputeShiftUrineRate(agg, s.urineCategory, sh, weightKg)
}

// BalanceResult is a classified 24-hour net balance.
type BalanceResult struct {
	NetBalanceML   float64        `json:"net_balance_ml"`
	Goal           GoalRange      `json:"goal"`
	Classification Classification `json:"classification"`
}

// ClassifyBalance classifies the 24-hour net balance against goal. A nil goal
// uses the service default.
func (s *Service) ClassifyBalance(ctx context.Context, key FlowsheetKey, goal *GoalRange) (BalanceResult, error) {
	g := s.goal
	if goal != nil {
		if err := goal.Validate(); err != nil {
			return BalanceResult{}, err
		}
		g = *goal
	}
	agg, err := s.Aggregate(ctx, key)
	if err != nil {
		return BalanceResult{}, err
	}
	return classify(agg, g), nil
}

func classify(agg AggregateSnapshot, g GoalRange) BalanceResult {
	return BalanceResult{
		NetBalanceML:   agg.Balance.TotalML,
		Goal:           g,
		Classification: ClassifyBalance(agg.Balance.TotalML, g),
	}
}

// BreakdownItem is one category's share of a kind's 24-hour total.
type BreakdownItem struct {
	CategoryID string  `json:"category_id"`
	Name       string  `json:"name"`
	TotalML    float64 `json:"total_ml"`
}

// KindSummary is the 24-hour intake or output card.
type KindSummary struct {
	Kind      Kind            `json:"kind"`
	TotalML   float64         `json:"total_ml"`
	Breakdown []BreakdownItem `json:"breakdown"`
}

// Summary is every headline figure of a patient-day, derived from one snapshot.
type Summary struct {
	Key     FlowsheetKey    `json:"key"`
	Intake  KindSummary     `json:"intake"`
	Output  KindSummary     `json:"output"`
	Balance BalanceResult   `json:"balance"`
	Urine   UrineAssessment `json:"urine"`
}

// Summary builds the summary cards. Categories without entries are left out
// of the breakdowns.
func (s *Service) Summary(ctx context.Context, key FlowsheetKey, patient PatientContext) (Summary, error) {
	agg, err := s.Aggregate(ctx, key)
	if err != nil {
		return Summary{}, err
	}
	urine, err := AssessUrine(agg, s.urineCategory, WeightOf(patient), s.urineTarget)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Key:     key,
		Intake:  kindSummary(agg, KindIntake),
		Output:  kindSummary(agg, KindOutput),
		Balance: classify(agg, s.goal),
		Urine:   urine,
	}, nil
}

func kindSummary(agg AggregateSnapshot, k Kind) KindSummary {
	ks := KindSummary{Kind: k, TotalML: agg.Kind(k).TotalML, Breakdown: []BreakdownItem{}}
	for _, ct := range agg.Categories {
		if ct.Category.Kind != k || !ct.HasEntry {
			continue
		}
		ks.Breakdown = append(ks.Breakdown, BreakdownItem{
			CategoryID: ct.Category.ID,
			Name:       ct.Category.Name,
			TotalML:    ct.TotalML,
		})
	}
	return ks
}

func (s *Service) publish(ctx context.Context, evt BucketChanged) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishBucketChanged(ctx, evt); err != nil {
		s.logger.Warn().Err(err).
			Str("flowsheet", fmt.Sprintf("%s/%s", evt.PatientID, evt.Date)).
			Str("action", string(evt.Action)).
			Msg("publish bucket change")
	}
}

func (s *Service) logFailure(err error, key FlowsheetKey, op string) {
	if IsValidation(err) {
		return
	}
	s.logger.Error().Err(err).Str("flowsheet", key.String()).Str("op", op).Msg("ledger mutation failed")
}
