package users

import (
	"time"

	"github.com/jrsteele09/go-solar-auth/identity"
)

// User is the durable profile kept for every subject that has signed in.
type User struct {
	ID              string    `json:"id"`                        // Subject id asserted by the identity provider
	Email           string    `json:"email,omitempty"`           // User's email address
	FirstName       string    `json:"firstName,omitempty"`       // First name of the user
	LastName        string    `json:"lastName,omitempty"`        // Last name of the user
	ProfileImageURL string    `json:"profileImageUrl,omitempty"` // Avatar URL
	CreatedAt       time.Time `json:"createdAt,omitempty"`       // First time the user was seen
	UpdatedAt       time.Time `json:"updatedAt,omitempty"`       // Last time claims were received
}

// FromClaims maps identity claims onto a user profile.
func FromClaims(claims identity.Claims, now time.Time) *User {
	return &User{
		ID:              claims.Subject,
		Email:           claims.Email,
		FirstName:       claims.FirstName,
		LastName:        claims.LastName,
		ProfileImageURL: claims.ProfileImageURL,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
