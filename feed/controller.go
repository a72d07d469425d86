// Package feed drives a client-side pin feed: debounced search, incremental page loading and
// in-order application of results.
package feed

import (
	"context"
	"sync"
	"time"

	"pinboard.io/pinboard/common/logging"
	se "pinboard.io/pinboard/errors"
	md "pinboard.io/pinboard/models"
)

const (
	// DefaultDebounce matches the typing pause after which a search fires
	DefaultDebounce = 500 * time.Millisecond
	defaultPageSize = 12
)

// Lister is the slice of the listing service the controller needs.
type Lister interface {
	List(ctx context.Context, term string, page, pageSize int) (*md.PinPage, *se.Err)
}

// Snapshot is an immutable view of the feed state handed to OnUpdate subscribers.
type Snapshot struct {
	Term    string
	Pins    []*md.Pin
	Total   int
	HasMore bool
	Loading bool
}

// Controller accumulates feed pages for one viewer. Search input is debounced; every fetch is
// sequence-numbered so a response landing after a newer request started is discarded instead of
// clobbering fresher state.
type Controller struct {
	lister   Lister
	pageSize int
	debounce time.Duration
	onUpdate func(Snapshot)

	mu      sync.Mutex
	term    string
	page    int
	pins    []*md.Pin
	total   int
	hasMore bool
	loading bool
	seq     uint64
	timer   *time.Timer
	stopped bool
}

// NewController builds a feed controller. onUpdate may be nil; pass 0 for the default debounce
// and page size. onUpdate runs with the controller lock held and must not call back into the
// controller.
func NewController(lister Lister, debounce time.Duration, pageSize int, onUpdate func(Snapshot)) *Controller {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Controller{
		lister:   lister,
		pageSize: pageSize,
		debounce: debounce,
		onUpdate: onUpdate,
		hasMore:  true,
	}
}

// SetSearch records the viewer's current search input. The fetch fires only after the input has
// been stable for the debounce window, so keystrokes collapse into one request.
func (c *Controller) SetSearch(term string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.term = term
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return
		}
		c.fetchLocked(c.term, 1, false)
		c.mu.Unlock()
	})
}

// LoadMore fetches the next page and appends it. It is a no-op while a fetch is in flight or
// when the feed is exhausted.
func (c *Controller) LoadMore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.loading || !c.hasMore {
		return
	}
	c.fetchLocked(c.term, c.page+1, true)
}

// Refresh reloads the first page of the current search immediately, bypassing the debounce.
func (c *Controller) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.fetchLocked(c.term, 1, false)
}

// Snapshot returns the current feed state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Stop cancels any pending debounce and makes further fetches no-ops.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	pins := make([]*md.Pin, len(c.pins))
	copy(pins, c.pins)
	return Snapshot{
		Term:    c.term,
		Pins:    pins,
		Total:   c.total,
		HasMore: c.hasMore,
		Loading: c.loading,
	}
}

// fetchLocked starts an asynchronous page load. Caller holds c.mu. The captured sequence number
// ties the response back to this request; a mismatch on arrival means a newer request has since
// started and the response is stale.
func (c *Controller) fetchLocked(term string, page int, appendTo bool) {
	c.seq++
	seq := c.seq
	c.loading = true
	c.notifyLocked()
	go func() {
		clog := logging.WithFuncName()
		res, err := c.lister.List(context.Background(), term, page, c.pageSize)
		c.mu.Lock()
		defer c.mu.Unlock()
		if seq != c.seq || c.stopped {
			return
		}
		c.loading = false
		if err != nil {
			clog.WithError(err).WithField("page", page).Error("error loading feed page")
			c.notifyLocked()
			return
		}
		if appendTo {
			c.pins = append(c.pins, res.Pins...)
		} else {
			c.pins = res.Pins
		}
		c.page = page
		c.total = res.Total
		c.hasMore = res.HasMore
		c.notifyLocked()
	}()
}

func (c *Controller) notifyLocked() {
	if c.onUpdate == nil {
		return
	}
	c.onUpdate(c.snapshotLocked())
}
