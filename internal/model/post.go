package model

import "time"

// Post is a node in the content graph: an original post, a reply
// (ReplyTo set) or a repost (RepostOf set).
//
// ReplyTo and RepostOf are pointers because "no parent" must be NULL in the
// database, not an empty string. The feed query relies on
// `reply_to IS NULL` to find top-level posts.
type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Image     *string   `json:"image"`
	ReplyTo   *string   `json:"reply_to"`
	RepostOf  *string   `json:"repost_of"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FeedItem is a Post annotated at read time.
//
// None of the counters are stored: every read aggregates them from the
// likes and posts tables, so there is no counter to lose an update on.
type FeedItem struct {
	Post
	Username     string `json:"username"`
	DisplayName  string `json:"display_name"`
	Avatar       string `json:"avatar"`
	Verified     bool   `json:"verified"`
	LikesCount   int    `json:"likes_count"`
	RepliesCount int    `json:"replies_count"`
	RepostsCount int    `json:"reposts_count"`
	LikedByUser  bool   `json:"liked_by_user"`
}

// LikeResult reports what a like/unlike call actually did.
// Both directions are idempotent, so the "nothing happened" outcomes are
// successes, not errors.
type LikeResult string

const (
	LikeAdded          LikeResult = "added"
	LikeAlreadyPresent LikeResult = "already_present"
	LikeRemoved        LikeResult = "removed"
	LikeNotPresent     LikeResult = "not_present"
)
