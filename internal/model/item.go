package model

import "time"

// Item is a to-do entry owned by a single user.
// ID is assigned by the document store on creation.
type Item struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile holds display metadata for a user, keyed by the user id.
type Profile struct {
	UserID string `json:"-"`
	Name   string `json:"name"`
}

// User is the identity behind a session.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
