package models

import (
	"strings"
	"time"
)

/*
 Application layer data models.
*/

// Pin models a single board entry: an uploaded image with its describing text.
// Image holds the serving path of the binary in the file storage layer.
type Pin struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Image       string    `json:"image"`
	OwnerID     string    `json:"userId"`
	OwnerName   string    `json:"ownerName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Matches reports whether the pin's title or description contains term as a
// case-insensitive substring. Every pin matches the empty term.
func (p *Pin) Matches(term string) bool {
	if term == "" {
		return true
	}
	term = strings.ToLower(term)
	return strings.Contains(strings.ToLower(p.Title), term) ||
		strings.Contains(strings.ToLower(p.Description), term)
}

// Clone returns a copy of the pin so that store internals never leak to callers.
func (p *Pin) Clone() *Pin {
	cp := *p
	return &cp
}

// PinUpdate carries the partial fields of a pin update. Nil means leave as is.
// Owner and creation time are immutable by construction.
type PinUpdate struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Image       *string `json:"image"`
}

// Apply overwrites the pin's updatable fields with those set on u.
func (p *Pin) Apply(u PinUpdate) {
	if u.Title != nil {
		p.Title = *u.Title
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Image != nil {
		p.Image = *u.Image
	}
}

// PinPage is one page of listing results plus pagination metadata.
type PinPage struct {
	Pins    []*Pin `json:"pins"`
	Total   int    `json:"total"`
	HasMore bool   `json:"hasMore"`
}

// User models individual service user
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}
