package models

import "time"

// Role is a member's role inside a church.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// Permission is a single capability granted by a role.
type Permission string

const (
	PermViewChurch      Permission = "church.view"
	PermChat            Permission = "church.chat"
	PermUploadMedia     Permission = "church.media.upload"
	PermModerateChat    Permission = "church.chat.moderate"
	PermManageGallery   Permission = "church.media.manage"
	PermProcessRequests Permission = "church.requests.process"
	PermManageRoles     Permission = "church.roles.manage"
	PermEditSettings    Permission = "church.settings.edit"
	PermDeleteChurch    Permission = "church.delete"
)

// RequestStatus is the lifecycle state of a membership request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// MembershipRequest is a user's request to join a church.
type MembershipRequest struct {
	ID          string        `json:"id"`
	ChurchID    string        `json:"church_id"`
	UserID      string        `json:"user_id"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	ProcessedAt *time.Time    `json:"processed_at,omitempty"`
	ProcessedBy string        `json:"processed_by,omitempty"`
}

// Member is a user's membership in a church.
type Member struct {
	ChurchID string    `json:"church_id"`
	UserID   string    `json:"user_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// JoinChurchRequest is the request body for asking to join a church
type JoinChurchRequest struct {
	UserID string `json:"user_id"`
}

// ProcessRequestBody is the request body for approving or rejecting a request
type ProcessRequestBody struct {
	ActorID string `json:"actor_id"`
}

// SetRoleRequest is the request body for changing a member's role
type SetRoleRequest struct {
	ActorID string `json:"actor_id"`
	Role    Role   `json:"role"`
}

// Church is a community organization with its own members and chat.
type Church struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateChurchRequest is the request body for registering a church
type CreateChurchRequest struct {
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}
