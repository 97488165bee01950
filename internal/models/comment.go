package models

import "time"

// Comment is a post comment as stored and served flat. Replies are linked by
// ParentID; the tree shape is derived on read.
type Comment struct {
	// ID is the unique identifier for this comment
	ID string `json:"id"`

	// PostID is the feed post the comment belongs to
	PostID string `json:"post_id"`

	// ParentID is the comment this one replies to, empty for a root comment
	ParentID string `json:"parent_id,omitempty"`

	// AuthorID is the commenting user
	AuthorID string `json:"author_id"`

	// Author holds expanded author data when the backend provides it
	Author *UserSummary `json:"author,omitempty"`

	// Content is the comment body
	Content string `json:"content"`

	// Reactions counts reactions by kind ("like", "pray", ...)
	Reactions map[string]int `json:"reactions,omitempty"`

	// CreatedAt orders root comments
	CreatedAt time.Time `json:"created_at"`
}

// CreateCommentRequest is the request body for commenting on a post
type CreateCommentRequest struct {
	AuthorID string `json:"author_id"`
	ParentID string `json:"parent_id,omitempty"`
	Content  string `json:"content"`
}
