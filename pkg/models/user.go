// Package models defines the persisted row types and report payloads.
package models

import "time"

// User is a registered account. Rows are never destroyed in-band.
type User struct {
	UserID       string    `db:"user_id" json:"user_id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	IsAdmin      bool      `db:"is_admin" json:"is_admin"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Thread is one agent conversation. The thread id is "{userId}-{uuid}" and the
// userId prefix is the authorization proof on every thread-scoped endpoint.
type Thread struct {
	ThreadID  string    `db:"thread_id" json:"thread_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Title     *string   `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
