package services

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adi-253/fellowship/internal/commenttree"
	"github.com/adi-253/fellowship/internal/models"
)

// CommentService stores post comments flat and serves them as trees.
type CommentService struct {
	// comments stores comments per post in insertion order
	comments map[string][]models.Comment
	mu       sync.RWMutex

	publisher Publisher
	log       zerolog.Logger
	now       func() time.Time
}

// NewCommentService creates a new CommentService instance
func NewCommentService(pub Publisher, log zerolog.Logger) *CommentService {
	return &CommentService{
		comments:  make(map[string][]models.Comment),
		publisher: pub,
		log:       log.With().Str("component", "comments").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AddComment creates a root comment or a reply on a post.
func (s *CommentService) AddComment(postID string, req models.CreateCommentRequest) (*models.Comment, error) {
	postID = strings.TrimSpace(postID)
	req.AuthorID = strings.TrimSpace(req.AuthorID)
	req.Content = strings.TrimSpace(req.Content)
	req.ParentID = strings.TrimSpace(req.ParentID)

	switch {
	case postID == "":
		return nil, fmt.Errorf("post id is required: %w", ErrInvalidArgument)
	case req.AuthorID == "":
		return nil, fmt.Errorf("author_id is required: %w", ErrInvalidArgument)
	case req.Content == "":
		return nil, fmt.Errorf("content is required: %w", ErrInvalidArgument)
	}

	s.mu.Lock()
	if req.ParentID != "" && s.indexLocked(postID, req.ParentID) < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("comment %s on post %s: %w", req.ParentID, postID, ErrParentNotFound)
	}

	c := models.Comment{
		ID:        uuid.New().String(),
		PostID:    postID,
		ParentID:  req.ParentID,
		AuthorID:  req.AuthorID,
		Content:   req.Content,
		CreatedAt: s.now(),
	}
	s.comments[postID] = append(s.comments[postID], c)
	s.mu.Unlock()

	publish(s.publisher, s.log, models.EventNewComment, models.PostRoom(postID), c)
	return &c, nil
}

// ListComments returns the flat comment list of a post.
func (s *CommentService) ListComments(postID string) []models.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.comments[postID]
	out := make([]models.Comment, len(stored))
	copy(out, stored)
	return out
}

// Tree returns the comments of a post arranged as reply threads.
func (s *CommentService) Tree(postID string, opts commenttree.Options) []*commenttree.Node {
	return commenttree.Build(s.ListComments(postID), opts)
}

// React increments a reaction counter on a comment.
func (s *CommentService) React(postID, commentID, kind string) (*models.Comment, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return nil, fmt.Errorf("reaction kind is required: %w", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(postID, commentID)
	if idx < 0 {
		return nil, fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
	}
	c := &s.comments[postID][idx]
	counts := make(map[string]int, len(c.Reactions)+1)
	for k, v := range c.Reactions {
		counts[k] = v
	}
	counts[kind]++
	c.Reactions = counts
	out := *c
	return &out, nil
}

// DeleteComment removes one comment. Replies stay and surface as roots.
// Only the author may delete.
func (s *CommentService) DeleteComment(postID, commentID, actorID string) error {
	s.mu.Lock()
	idx := s.indexLocked(postID, commentID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
	}
	stored := s.comments[postID]
	if stored[idx].AuthorID != actorID {
		s.mu.Unlock()
		return fmt.Errorf("user %s may not delete comment %s: %w", actorID, commentID, ErrForbidden)
	}
	s.comments[postID] = append(stored[:idx:idx], stored[idx+1:]...)
	s.mu.Unlock()

	publish(s.publisher, s.log, models.EventCommentDeleted, models.PostRoom(postID),
		models.DeletedPayload{PostID: postID, ID: commentID})
	return nil
}

func (s *CommentService) indexLocked(postID, commentID string) int {
	for i, c := range s.comments[postID] {
		if c.ID == commentID {
			return i
		}
	}
	return -1
}
