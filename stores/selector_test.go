package stores

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	se "pinboard.io/pinboard/errors"
	md "pinboard.io/pinboard/models"
)

func TestSelector_DegradesOnNextCall(t *testing.T) {
	ctx := context.Background()
	primary := &mockPinStore{}
	primary.On("Search", mock.Anything, "").Return(([]*md.Pin)(nil), se.NewUnavailable("db gone")).Once()
	fallback := NewMemoryStore()
	sel := NewSelector(primary, fallback, neverProbe, time.Minute)

	// failing call surfaces its error, no mid-call retry
	_, err := sel.Search(ctx, "")
	if assert.NotNil(t, err) {
		assert.Equal(t, se.ErrCodeDependencyFailure, err.Code)
	}
	assert.True(t, sel.Degraded())
	assert.Equal(t, ModeFallback, sel.Mode())

	// subsequent calls run against the fallback and reflect each other
	p := &md.Pin{Title: "written while degraded"}
	assert.Nil(t, sel.Create(ctx, p))
	pins, serr := sel.Search(ctx, "")
	assert.Nil(t, serr)
	if assert.Len(t, pins, 1) {
		assert.Equal(t, "written while degraded", pins[0].Title)
	}
	primary.AssertExpectations(t)
}

func TestSelector_NonConnectivityErrorsDoNotDegrade(t *testing.T) {
	ctx := context.Background()
	primary := &mockPinStore{}
	primary.On("Get", mock.Anything, "nope").Return((*md.Pin)(nil), se.NewNotFound("pin not found"))
	sel := NewSelector(primary, NewMemoryStore(), neverProbe, time.Minute)

	_, err := sel.Get(ctx, "nope")
	if assert.NotNil(t, err) {
		assert.Equal(t, se.ErrCodeNotFound, err.Code)
	}
	assert.False(t, sel.Degraded(), "NotFound must not trigger fallback")
	assert.Equal(t, ModePersistent, sel.Mode())
}

func TestSelector_RecoverReplaysFallbackInserts(t *testing.T) {
	ctx := context.Background()
	primary := &mockPinStore{}
	fallback := NewMemoryStore()
	sel := NewSelector(primary, fallback, neverProbe, time.Minute)
	sel.MarkDegraded()

	for _, title := range []string{"first", "second"} {
		assert.Nil(t, sel.Create(ctx, &md.Pin{Title: title}))
	}
	replayed := []string{}
	primary.On("Create", mock.Anything, mock.AnythingOfType("*models.Pin")).
		Run(func(args mock.Arguments) {
			replayed = append(replayed, args.Get(1).(*md.Pin).Title)
		}).
		Return((*se.Err)(nil)).Twice()

	sel.recover(ctx)

	assert.False(t, sel.Degraded())
	assert.Equal(t, []string{"first", "second"}, replayed, "replay must run in insertion order")
	pins, serr := fallback.Search(ctx, "")
	assert.Nil(t, serr)
	assert.Empty(t, pins, "fallback must be cleared after reconciliation")
	primary.AssertExpectations(t)
}

func TestSelector_RecoverAbortsWhenStoreLostAgain(t *testing.T) {
	ctx := context.Background()
	primary := &mockPinStore{}
	fallback := NewMemoryStore()
	sel := NewSelector(primary, fallback, neverProbe, time.Minute)
	sel.MarkDegraded()
	assert.Nil(t, sel.Create(ctx, &md.Pin{Title: "stranded"}))

	primary.On("Create", mock.Anything, mock.AnythingOfType("*models.Pin")).
		Return(se.NewUnavailable("db gone again")).Once()

	sel.recover(ctx)

	assert.True(t, sel.Degraded(), "selector must stay degraded")
	pins, serr := fallback.Search(ctx, "")
	assert.Nil(t, serr)
	assert.Len(t, pins, 1, "fallback must keep its records for the next recovery pass")
	primary.AssertExpectations(t)
}

func TestSelector_RunProbesAndRecovers(t *testing.T) {
	ctx := context.Background()
	primary := &mockPinStore{}
	primary.On("Create", mock.Anything, mock.AnythingOfType("*models.Pin")).Return((*se.Err)(nil))
	fallback := NewMemoryStore()
	probed := make(chan struct{}, 8)
	probe := func(context.Context) *se.Err {
		probed <- struct{}{}
		return nil
	}
	sel := NewSelector(primary, fallback, probe, 5*time.Millisecond)
	sel.MarkDegraded()
	assert.Nil(t, sel.Create(ctx, &md.Pin{Title: "stranded"}))

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		sel.Run(stop)
		close(done)
	}()
	select {
	case <-probed:
	case <-time.After(2 * time.Second):
		t.Fatal("probe never fired")
	}
	deadline := time.Now().Add(2 * time.Second)
	for sel.Degraded() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, sel.Degraded(), "selector should have recovered")
	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func neverProbe(context.Context) *se.Err {
	return se.NewUnavailable("still down")
}

// mocks
type mockPinStore struct{ mock.Mock }

func (m *mockPinStore) Create(ctx context.Context, p *md.Pin) *se.Err {
	return m.Called(ctx, p).Get(0).(*se.Err)
}

func (m *mockPinStore) Get(ctx context.Context, id string) (*md.Pin, *se.Err) {
	args := m.Called(ctx, id)
	return args.Get(0).(*md.Pin), args.Get(1).(*se.Err)
}

func (m *mockPinStore) Update(ctx context.Context, id string, u md.PinUpdate) (*md.Pin, *se.Err) {
	args := m.Called(ctx, id, u)
	return args.Get(0).(*md.Pin), args.Get(1).(*se.Err)
}

func (m *mockPinStore) Delete(ctx context.Context, id string) *se.Err {
	return m.Called(ctx, id).Get(0).(*se.Err)
}

func (m *mockPinStore) Search(ctx context.Context, term string) ([]*md.Pin, *se.Err) {
	args := m.Called(ctx, term)
	return args.Get(0).([]*md.Pin), args.Get(1).(*se.Err)
}

func (m *mockPinStore) ListByOwner(ctx context.Context, ownerID string) ([]*md.Pin, *se.Err) {
	args := m.Called(ctx, ownerID)
	return args.Get(0).([]*md.Pin), args.Get(1).(*se.Err)
}

func (m *mockPinStore) Close() *se.Err {
	return m.Called().Get(0).(*se.Err)
}
