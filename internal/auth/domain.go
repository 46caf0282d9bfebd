package auth

import "time"

// User represents an account able to sign in to the admin panel.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Status       string
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the account may sign in.
func (u User) Active() bool {
	return u.Status == "active"
}
