package pins

import (
	"context"
	"strings"
	"time"

	se "pinboard.io/pinboard/errors"
	md "pinboard.io/pinboard/models"
	st "pinboard.io/pinboard/stores"
)

// Mutation owns pin writes. Every op requires an authenticated requester, and update/delete
// additionally require the requester to be the pin's owner.
type Mutation struct {
	Store st.PinStore
}

func NewMutation(store st.PinStore) *Mutation {
	return &Mutation{Store: store}
}

// Create validates and persists a new pin on behalf of requesterID. The store assigns the id.
func (m *Mutation) Create(ctx context.Context, requesterID string, p *md.Pin) (*md.Pin, *se.Err) {
	if requesterID == "" {
		return nil, se.NewUnauthorized("authentication required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return nil, se.NewBadInput("pin title must not be empty")
	}
	if p.Image == "" {
		return nil, se.NewBadInput("pin image must not be empty")
	}
	p.ID = ""
	p.OwnerID = requesterID
	p.CreatedAt = time.Now().UTC()
	if err := m.Store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Update applies u to the pin iff requesterID owns it.
func (m *Mutation) Update(ctx context.Context, requesterID, pinID string, u md.PinUpdate) (*md.Pin, *se.Err) {
	if requesterID == "" {
		return nil, se.NewUnauthorized("authentication required")
	}
	existing, err := m.Store.Get(ctx, pinID)
	if err != nil {
		return nil, err
	}
	if existing.OwnerID != requesterID {
		return nil, se.NewForbidden("not the pin owner")
	}
	return m.Store.Update(ctx, pinID, u)
}

// Delete removes the pin iff requesterID owns it, and returns the removed pin so callers can
// clean up its image.
func (m *Mutation) Delete(ctx context.Context, requesterID, pinID string) (*md.Pin, *se.Err) {
	if requesterID == "" {
		return nil, se.NewUnauthorized("authentication required")
	}
	existing, err := m.Store.Get(ctx, pinID)
	if err != nil {
		return nil, err
	}
	if existing.OwnerID != requesterID {
		return nil, se.NewForbidden("not the pin owner")
	}
	if err := m.Store.Delete(ctx, pinID); err != nil {
		return nil, err
	}
	return existing, nil
}
