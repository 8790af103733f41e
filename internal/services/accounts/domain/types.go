// Package domain defines the connected social account types and ports
package domain

import "time"

// Account is a creator's connected social platform account
type Account struct {
	ID             string
	CreatorID      string
	Platform       string
	PlatformUserID string
	Username       string
	AccessToken    string
	TokenExpiresAt time.Time
	Active         bool
	ConnectedAt    time.Time
}

// RefreshResult summarizes one token refresh sweep
type RefreshResult struct {
	Checked   int
	Refreshed int
	Failed    int
}
