package store

import (
	"time"
)

// User is an account row. Users are created implicitly the first time a
// magic link is requested for their address; there is no separate signup.
type User struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func (User) TableName() string { return "users" }

// Post is a user-owned content row. The variant tag distinguishes record
// kinds sharing the table. Updates follow last-write-wins ordered by
// UpdatedAt, so offline clients can sync without clobbering newer data.
type Post struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Content   string    `json:"content"`
	Variant   string    `json:"variant"`
	UserID    int64     `gorm:"index;not null" json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Post) TableName() string { return "posts" }
