// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// Status is the local subscription state of a user.
//
// It mirrors a reduced view of the payment provider's subscription status:
// every provider state collapses into one of these three values.
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusInactive:
		return true
	}
	return false
}

// HasAccess reports whether a user in this status may keep using the extension.
func (s Status) HasAccess() bool {
	return s == StatusActive || s == StatusTrialing
}

// UserAccess is the local record tracking one customer's subscription.
//
// Email is the natural key (UNIQUE in the database) and is always stored
// normalised with NormalizeEmail. AccessToken is generated once and handed
// to the editor extension; it is never rotated automatically.
//
// StripeCustomerID is nil until the first checkout completes, and again after
// an orphaned customer reference has been scrubbed.
type UserAccess struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	AccessToken      string    `json:"access_token"`
	StripeCustomerID *string   `json:"stripe_customer_id"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CustomerID returns the Stripe customer id or "" when none is linked.
func (u *UserAccess) CustomerID() string {
	if u.StripeCustomerID == nil {
		return ""
	}
	return *u.StripeCustomerID
}

// NormalizeEmail lowercases and trims an email address.
// Every lookup and write goes through this so "Bob@x.io " and "bob@x.io" are the same user.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
