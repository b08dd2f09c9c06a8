// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a registered identity.
//
// MODERATION STATE:
// Three independent dimensions describe what an identity may do:
//   - Verified:  a badge set by admins, no effect on access
//   - IsAdmin:   grants the moderation endpoints
//   - ban state: derived from BannedUntil + BannedPermanently, see BanStatus
//
// A permanent ban is stored as its own flag instead of a far-future
// timestamp so "banned forever" can never be confused with "not banned"
// (a NULL BannedUntil) or with a long temporary ban.
//
// PasswordHash is never serialized.
type User struct {
	ID                string     `json:"id"`
	Handle            string     `json:"username"`
	Email             string     `json:"email,omitempty"`
	PasswordHash      string     `json:"-"`
	DisplayName       string     `json:"display_name"`
	Bio               string     `json:"bio"`
	AvatarRef         string     `json:"avatar"`
	Verified          bool       `json:"verified"`
	IsAdmin           bool       `json:"admin"`
	BannedUntil       *time.Time `json:"banned_until,omitempty"`
	BannedPermanently bool       `json:"banned_permanently,omitempty"`
	GitHubID          *int64     `json:"-"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// BanState is the moderation state of an identity at a given instant.
type BanState string

const (
	BanStateActive    BanState = "active"
	BanStateTemporary BanState = "banned"
	BanStatePermanent BanState = "banned_permanently"
)

// BanStatus evaluates the ban columns against now.
// A BannedUntil in the past (or equal to now) means the ban has lapsed.
func (u *User) BanStatus(now time.Time) BanState {
	return banStatus(u.BannedPermanently, u.BannedUntil, now)
}

// IsBanned reports whether the identity is banned at now.
func (u *User) IsBanned(now time.Time) bool {
	return u.BanStatus(now) != BanStateActive
}

// AccountStatus returns the subset of the identity the authorization
// guard re-checks on each request.
func (u *User) AccountStatus() AccountStatus {
	return AccountStatus{
		UserID:            u.ID,
		Handle:            u.Handle,
		IsAdmin:           u.IsAdmin,
		Verified:          u.Verified,
		BannedUntil:       u.BannedUntil,
		BannedPermanently: u.BannedPermanently,
	}
}

// AccountStatus is the cacheable moderation snapshot of an identity.
type AccountStatus struct {
	UserID            string     `json:"id"`
	Handle            string     `json:"username"`
	IsAdmin           bool       `json:"admin"`
	Verified          bool       `json:"verified"`
	BannedUntil       *time.Time `json:"banned_until,omitempty"`
	BannedPermanently bool       `json:"banned_permanently,omitempty"`
}

// BanStatus mirrors User.BanStatus for the cached snapshot.
func (s AccountStatus) BanStatus(now time.Time) BanState {
	return banStatus(s.BannedPermanently, s.BannedUntil, now)
}

func banStatus(permanent bool, until *time.Time, now time.Time) BanState {
	if permanent {
		return BanStatePermanent
	}
	if until != nil && until.After(now) {
		return BanStateTemporary
	}
	return BanStateActive
}

// Profile is the public view of an identity with its graph counts.
// It carries no email or moderation fields.
type Profile struct {
	ID             string    `json:"id"`
	Handle         string    `json:"username"`
	DisplayName    string    `json:"display_name"`
	Bio            string    `json:"bio"`
	AvatarRef      string    `json:"avatar"`
	Verified       bool      `json:"verified"`
	FollowersCount int       `json:"followers_count"`
	FollowingCount int       `json:"following_count"`
	PostsCount     int       `json:"posts_count"`
	CreatedAt      time.Time `json:"created_at"`
}
