package stores

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"pinboard.io/pinboard/common/logging"
	se "pinboard.io/pinboard/errors"
	md "pinboard.io/pinboard/models"
)

// Store modes as reported by Mode.
const (
	ModePersistent = "persistent"
	ModeFallback   = "fallback"
)

// Selector is a PinStore routing every operation to whichever of the two backing stores is
// active. A connectivity failure from the persistent store marks it down; the call that hit the
// failure still surfaces its error (no mid-call retry), every call after it runs against the
// fallback. Run drives recovery: probe the persistent store, replay fallback inserts into it,
// switch back.
type Selector struct {
	mu        sync.RWMutex
	primary   PinStore
	fallback  *MemoryStore
	degraded  bool
	probe     func(context.Context) *se.Err
	probeFreq time.Duration
}

func NewSelector(primary PinStore, fallback *MemoryStore, probe func(context.Context) *se.Err, probeFreq time.Duration) *Selector {
	return &Selector{
		primary:   primary,
		fallback:  fallback,
		probe:     probe,
		probeFreq: probeFreq,
	}
}

func (s *Selector) active() PinStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.degraded {
		return s.fallback
	}
	return s.primary
}

func (s *Selector) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

func (s *Selector) Mode() string {
	if s.Degraded() {
		return ModeFallback
	}
	return ModePersistent
}

// MarkDegraded switches to the fallback store, e.g., when the persistent store is already
// unreachable at startup.
func (s *Selector) MarkDegraded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.degraded {
		s.degraded = true
		log.Warn("persistent pin store unreachable, switching to fallback store")
	}
}

// observe flips to the fallback when an operation reported the persistent store down.
// The fallback itself never reports unavailability.
func (s *Selector) observe(e *se.Err) {
	if e != nil && e.Code == se.ErrCodeDependencyFailure {
		s.MarkDegraded()
	}
}

func (s *Selector) Create(ctx context.Context, p *md.Pin) *se.Err {
	err := s.active().Create(ctx, p)
	s.observe(err)
	return err
}

func (s *Selector) Get(ctx context.Context, id string) (*md.Pin, *se.Err) {
	p, err := s.active().Get(ctx, id)
	s.observe(err)
	return p, err
}

func (s *Selector) Update(ctx context.Context, id string, u md.PinUpdate) (*md.Pin, *se.Err) {
	p, err := s.active().Update(ctx, id, u)
	s.observe(err)
	return p, err
}

func (s *Selector) Delete(ctx context.Context, id string) *se.Err {
	err := s.active().Delete(ctx, id)
	s.observe(err)
	return err
}

func (s *Selector) Search(ctx context.Context, term string) ([]*md.Pin, *se.Err) {
	pins, err := s.active().Search(ctx, term)
	s.observe(err)
	return pins, err
}

func (s *Selector) ListByOwner(ctx context.Context, ownerID string) ([]*md.Pin, *se.Err) {
	pins, err := s.active().ListByOwner(ctx, ownerID)
	s.observe(err)
	return pins, err
}

func (s *Selector) Close() *se.Err {
	ferr := s.fallback.Close()
	if err := s.primary.Close(); err != nil {
		return err
	}
	return ferr
}

// Run probes the persistent store while degraded and reconciles on recovery. It returns when
// stop is closed.
func (s *Selector) Run(stop <-chan struct{}) {
	clog := logging.WithFuncName()
	tkr := time.NewTicker(s.probeFreq)
	defer tkr.Stop()
	for {
		select {
		case <-tkr.C:
			if !s.Degraded() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.probeFreq)
			err := s.probe(ctx)
			if err != nil {
				clog.WithError(err).Debug("persistent pin store still unreachable")
				cancel()
				continue
			}
			s.recover(ctx)
			cancel()
		case <-stop:
			return
		}
	}
}

// recover switches back to the persistent store first so new writes land there, then replays
// the fallback's inserts. Readers can miss fallback records for the moment the replay takes.
func (s *Selector) recover(ctx context.Context) {
	clog := logging.WithFuncName()
	s.mu.Lock()
	s.degraded = false
	s.mu.Unlock()
	pins, err := s.fallback.Search(ctx, "")
	if err != nil {
		clog.WithError(err).Error("error reading fallback pins for reconciliation")
		return
	}
	replayed := 0
	for _, p := range pins {
		cerr := s.primary.Create(ctx, p)
		switch {
		case cerr == nil:
			replayed++
		case cerr.Code == se.ErrCodeExisted:
			// already replayed by an earlier partial recovery
			replayed++
		case cerr.Code == se.ErrCodeDependencyFailure:
			clog.WithError(cerr).Warn("persistent pin store lost again mid-reconciliation")
			s.MarkDegraded()
			return
		default:
			clog.WithError(cerr).WithField("pinID", p.ID).Error("error replaying fallback pin")
		}
	}
	if s.Degraded() {
		// a concurrent operation lost the store again; keep the fallback intact for the next pass
		return
	}
	s.fallback.Clear()
	clog.WithField("replayedPins", replayed).Info("persistent pin store recovered")
}
