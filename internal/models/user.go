package models

import "time"

// User represents an application user. CompanyID is the tenant boundary:
// every core read/write is scoped to the company carried in the user's claims.
type User struct {
	ID           string     `db:"id" json:"id"`
	CompanyID    string     `db:"company_id" json:"company_id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}
