package feed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	se "pinboard.io/pinboard/errors"
	md "pinboard.io/pinboard/models"
)

type listerFunc func(ctx context.Context, term string, page, pageSize int) (*md.PinPage, *se.Err)

func (f listerFunc) List(ctx context.Context, term string, page, pageSize int) (*md.PinPage, *se.Err) {
	return f(ctx, term, page, pageSize)
}

func pageOf(titles []string, total int, hasMore bool) *md.PinPage {
	pins := make([]*md.Pin, 0, len(titles))
	for _, title := range titles {
		pins = append(pins, &md.Pin{Title: title})
	}
	return &md.PinPage{Pins: pins, Total: total, HasMore: hasMore}
}

// waitUntil polls cond for up to 2s. Generous deadline to keep the test stable on slow hosts.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestControllerDebouncesSearch(t *testing.T) {
	var calls int32
	var lastTerm atomic.Value
	l := listerFunc(func(_ context.Context, term string, page, _ int) (*md.PinPage, *se.Err) {
		atomic.AddInt32(&calls, 1)
		lastTerm.Store(term)
		return pageOf([]string{term}, 1, false), nil
	})
	c := NewController(l, 50*time.Millisecond, 12, nil)
	defer c.Stop()

	// keystrokes within the debounce window collapse into a single request
	c.SetSearch("s")
	c.SetSearch("su")
	c.SetSearch("sun")
	waitUntil(t, func() bool { return atomic.LoadInt32(&calls) == 1 })
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "sun", lastTerm.Load())
	assert.Equal(t, "sun", c.Snapshot().Term)
}

func TestControllerLoadMoreAppends(t *testing.T) {
	l := listerFunc(func(_ context.Context, _ string, page, pageSize int) (*md.PinPage, *se.Err) {
		switch page {
		case 1:
			titles := make([]string, pageSize)
			for i := range titles {
				titles[i] = fmt.Sprintf("p1-%d", i)
			}
			return pageOf(titles, pageSize+1, true), nil
		case 2:
			return pageOf([]string{"p2-0"}, pageSize+1, false), nil
		default:
			return pageOf(nil, pageSize+1, false), nil
		}
	})
	c := NewController(l, time.Hour, 12, nil)
	defer c.Stop()

	c.Refresh()
	waitUntil(t, func() bool { s := c.Snapshot(); return !s.Loading && len(s.Pins) == 12 })
	assert.True(t, c.Snapshot().HasMore)

	c.LoadMore()
	waitUntil(t, func() bool { s := c.Snapshot(); return !s.Loading && len(s.Pins) == 13 })
	s := c.Snapshot()
	assert.Equal(t, "p1-0", s.Pins[0].Title)
	assert.Equal(t, "p2-0", s.Pins[12].Title)
	assert.Equal(t, 13, s.Total)
	assert.False(t, s.HasMore)

	// exhausted feed: further LoadMore must not fetch
	c.LoadMore()
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, c.Snapshot().Pins, 13)
}

func TestControllerSkipsLoadMoreWhileLoading(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	l := listerFunc(func(_ context.Context, _ string, page, _ int) (*md.PinPage, *se.Err) {
		atomic.AddInt32(&calls, 1)
		<-release
		return pageOf([]string{"x"}, 2, true), nil
	})
	c := NewController(l, time.Hour, 12, nil)
	defer c.Stop()

	c.LoadMore()
	waitUntil(t, func() bool { return atomic.LoadInt32(&calls) == 1 })
	c.LoadMore()
	c.LoadMore()
	close(release)
	waitUntil(t, func() bool { return !c.Snapshot().Loading })
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestControllerDiscardsStaleResponse(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	l := listerFunc(func(_ context.Context, term string, _, _ int) (*md.PinPage, *se.Err) {
		call := atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		if call == 1 {
			// first response lands after a newer request has started
			<-release
		}
		return pageOf([]string{fmt.Sprintf("call-%d", call)}, 1, false), nil
	})
	c := NewController(l, time.Hour, 12, nil)
	defer c.Stop()

	c.Refresh()
	<-started
	c.Refresh()
	<-started
	waitUntil(t, func() bool {
		s := c.Snapshot()
		return len(s.Pins) == 1 && s.Pins[0].Title == "call-2"
	})
	close(release)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "call-2", c.Snapshot().Pins[0].Title)
}

func TestControllerSearchResetsToFirstPage(t *testing.T) {
	var mu sync.Mutex
	var pages []int
	l := listerFunc(func(_ context.Context, term string, page, _ int) (*md.PinPage, *se.Err) {
		mu.Lock()
		pages = append(pages, page)
		mu.Unlock()
		return pageOf([]string{term}, 30, true), nil
	})
	c := NewController(l, 10*time.Millisecond, 12, nil)
	defer c.Stop()

	c.Refresh()
	waitUntil(t, func() bool { return !c.Snapshot().Loading && len(c.Snapshot().Pins) == 1 })
	c.LoadMore()
	waitUntil(t, func() bool { return !c.Snapshot().Loading && len(c.Snapshot().Pins) == 2 })

	c.SetSearch("cats")
	waitUntil(t, func() bool {
		s := c.Snapshot()
		return !s.Loading && len(s.Pins) == 1 && s.Pins[0].Title == "cats"
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 1}, pages)
}

func TestControllerStop(t *testing.T) {
	var calls int32
	l := listerFunc(func(_ context.Context, _ string, _, _ int) (*md.PinPage, *se.Err) {
		atomic.AddInt32(&calls, 1)
		return pageOf(nil, 0, false), nil
	})
	c := NewController(l, 10*time.Millisecond, 12, nil)

	c.SetSearch("pending")
	c.Stop()
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&calls))

	c.Refresh()
	c.LoadMore()
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestControllerNotifiesSubscriber(t *testing.T) {
	l := listerFunc(func(_ context.Context, _ string, _, _ int) (*md.PinPage, *se.Err) {
		return pageOf([]string{"x"}, 1, false), nil
	})
	updates := make(chan Snapshot, 8)
	c := NewController(l, time.Hour, 12, func(s Snapshot) { updates <- s })
	defer c.Stop()

	c.Refresh()
	// first update marks the load in flight, second carries the result
	s := <-updates
	assert.True(t, s.Loading)
	s = <-updates
	assert.False(t, s.Loading)
	assert.Len(t, s.Pins, 1)
}
