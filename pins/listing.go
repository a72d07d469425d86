// Package pins implements the application services over the pin stores: listing/search with
// pagination, and owner-checked mutations.
package pins

import (
	"context"
	"sort"

	"github.com/bluele/gcache"
	"pinboard.io/pinboard/common/logging"
	se "pinboard.io/pinboard/errors"
	md "pinboard.io/pinboard/models"
	st "pinboard.io/pinboard/stores"
)

const (
	// DefaultPageSize matches what the feed requests per page
	DefaultPageSize = 12
	maxPageSize     = 100
)

// Listing serves the pin feed: filter by search term, newest first, one page at a time. It is
// store-agnostic; whichever store the selector routes to, the result shape is the same.
type Listing struct {
	Store st.PinStore
	Users st.UserStore
	names gcache.Cache
}

func NewListing(store st.PinStore, users st.UserStore, ownerCacheSize int) *Listing {
	if ownerCacheSize <= 0 {
		ownerCacheSize = 1024
	}
	return &Listing{
		Store: store,
		Users: users,
		names: gcache.New(ownerCacheSize).LRU().Build(),
	}
}

// List returns the page of pins matching term plus pagination metadata.
func (l *Listing) List(ctx context.Context, term string, page, pageSize int) (*md.PinPage, *se.Err) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	matches, err := l.Store.Search(ctx, term)
	if err != nil {
		return nil, err
	}
	sortByRecency(matches)
	total := len(matches)
	skip := (page - 1) * pageSize
	items := []*md.Pin{}
	if skip < total {
		end := skip + pageSize
		if end > total {
			end = total
		}
		items = matches[skip:end]
	}
	l.populateOwners(items)
	return &md.PinPage{
		Pins:    items,
		Total:   total,
		HasMore: skip+len(items) < total,
	}, nil
}

// ListByUser returns all of one user's pins, newest first.
func (l *Listing) ListByUser(ctx context.Context, userID string) ([]*md.Pin, *se.Err) {
	pins, err := l.Store.ListByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	sortByRecency(pins)
	l.populateOwners(pins)
	return pins, nil
}

// sortByRecency orders pins by creation time descending. The sort is stable so records with
// identical timestamps keep the store-returned (insertion) order.
func sortByRecency(pins []*md.Pin) {
	sort.SliceStable(pins, func(i, j int) bool {
		return pins[i].CreatedAt.After(pins[j].CreatedAt)
	})
}

// populateOwners best-effort resolves owner usernames through the LRU cache; a pin without a
// resolvable owner still lists.
func (l *Listing) populateOwners(pins []*md.Pin) {
	clog := logging.WithFuncName()
	for _, p := range pins {
		if p.OwnerID == "" {
			continue
		}
		if v, err := l.names.Get(p.OwnerID); err == nil {
			p.OwnerName = v.(string)
			continue
		} else if err != gcache.KeyNotFoundError {
			clog.WithError(err).WithField("ownerID", p.OwnerID).Error("error reading owner cache")
			continue
		}
		u, uerr := l.Users.Get(p.OwnerID)
		if uerr != nil {
			clog.WithError(uerr).WithField("ownerID", p.OwnerID).Debug("owner not resolvable")
			continue
		}
		p.OwnerName = u.Username
		if err := l.names.Set(p.OwnerID, u.Username); err != nil {
			clog.WithError(err).WithField("ownerID", p.OwnerID).Error("error caching owner name")
		}
	}
}
