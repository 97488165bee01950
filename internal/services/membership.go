package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adi-253/fellowship/internal/models"
)

// roleParent lists the role each role inherits from.
var roleParent = map[models.Role]models.Role{
	models.RoleOwner:     models.RoleAdmin,
	models.RoleAdmin:     models.RoleModerator,
	models.RoleModerator: models.RoleMember,
}

// roleGrants lists the permissions a role adds on top of its parent.
var roleGrants = map[models.Role][]models.Permission{
	models.RoleMember:    {models.PermViewChurch, models.PermChat, models.PermUploadMedia},
	models.RoleModerator: {models.PermModerateChat, models.PermManageGallery},
	models.RoleAdmin:     {models.PermProcessRequests, models.PermManageRoles, models.PermEditSettings},
	models.RoleOwner:     {models.PermDeleteChurch},
}

// Permissions returns every permission a role holds, including inherited
// ones, sorted. Unknown roles hold nothing.
func Permissions(role models.Role) []models.Permission {
	set := map[models.Permission]bool{}
	seen := map[models.Role]bool{}
	for r := role; r != ""; r = roleParent[r] {
		if seen[r] {
			break
		}
		seen[r] = true
		for _, p := range roleGrants[r] {
			set[p] = true
		}
	}

	out := make([]models.Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasPermission reports whether role holds perm.
func HasPermission(role models.Role, perm models.Permission) bool {
	for _, p := range Permissions(role) {
		if p == perm {
			return true
		}
	}
	return false
}

// MembershipService manages churches, their members and join requests.
type MembershipService struct {
	churches map[string]*models.Church
	members  map[string]map[string]*models.Member
	requests map[string]*models.MembershipRequest
	mu       sync.RWMutex

	messages  *MessageService
	publisher Publisher
	log       zerolog.Logger
	now       func() time.Time
}

// NewMembershipService creates a MembershipService. When messages is non-nil
// every church gets a chat conversation and church chat is gated on
// membership.
func NewMembershipService(messages *MessageService, pub Publisher, log zerolog.Logger) *MembershipService {
	s := &MembershipService{
		churches:  make(map[string]*models.Church),
		members:   make(map[string]map[string]*models.Member),
		requests:  make(map[string]*models.MembershipRequest),
		messages:  messages,
		publisher: pub,
		log:       log.With().Str("component", "membership").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	if messages != nil {
		messages.SetAuthorizer(s)
	}
	return s
}

// CreateChurch registers a church owned by ownerID.
func (s *MembershipService) CreateChurch(req models.CreateChurchRequest) (*models.Church, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	if req.Name == "" || req.OwnerID == "" {
		return nil, fmt.Errorf("name and owner_id are required: %w", ErrInvalidArgument)
	}

	now := s.now()
	church := &models.Church{ID: uuid.New().String(), Name: req.Name, OwnerID: req.OwnerID, CreatedAt: now}

	s.mu.Lock()
	s.churches[church.ID] = church
	s.members[church.ID] = map[string]*models.Member{
		req.OwnerID: {ChurchID: church.ID, UserID: req.OwnerID, Role: models.RoleOwner, JoinedAt: now},
	}
	s.mu.Unlock()

	if s.messages != nil {
		s.messages.OpenChurchConversation(church.ID)
	}
	s.log.Info().Str("church_id", church.ID).Str("owner_id", req.OwnerID).Msg("Church created")

	out := *church
	return &out, nil
}

// Can reports whether userID holds perm in churchID.
func (s *MembershipService) Can(churchID, userID string, perm models.Permission) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.members[churchID][userID]
	return ok && HasPermission(m.Role, perm)
}

// Members returns the members of a church sorted by user id.
func (s *MembershipService) Members(churchID string) ([]models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members, ok := s.members[churchID]
	if !ok {
		return nil, fmt.Errorf("church %s: %w", churchID, ErrNotFound)
	}
	out := make([]models.Member, 0, len(members))
	for _, m := range members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// RequestMembership files a join request. A second request while one is
// pending returns the pending one.
func (s *MembershipService) RequestMembership(churchID, userID string) (*models.MembershipRequest, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user_id is required: %w", ErrInvalidArgument)
	}

	s.mu.Lock()
	if _, ok := s.churches[churchID]; !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("church %s: %w", churchID, ErrNotFound)
	}
	if _, ok := s.members[churchID][userID]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("user %s already belongs to church %s: %w", userID, churchID, ErrConflict)
	}
	for _, r := range s.requests {
		if r.ChurchID == churchID && r.UserID == userID && r.Status == models.RequestPending {
			out := *r
			s.mu.Unlock()
			return &out, nil
		}
	}

	req := &models.MembershipRequest{
		ID:        uuid.New().String(),
		ChurchID:  churchID,
		UserID:    userID,
		Status:    models.RequestPending,
		CreatedAt: s.now(),
	}
	s.requests[req.ID] = req
	out := *req
	s.mu.Unlock()

	publish(s.publisher, s.log, models.EventMembershipRequested, models.ChurchRoom(churchID), out)
	return &out, nil
}

// ListRequests returns the requests of a church with the given status
// (all statuses when empty), oldest first. The actor must be allowed to
// process requests.
func (s *MembershipService) ListRequests(churchID, actorID string, status models.RequestStatus) ([]models.MembershipRequest, error) {
	if !s.Can(churchID, actorID, models.PermProcessRequests) {
		return nil, fmt.Errorf("user %s may not list requests of church %s: %w", actorID, churchID, ErrForbidden)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.MembershipRequest, 0)
	for _, r := range s.requests {
		if r.ChurchID != churchID || (status != "" && r.Status != status) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ProcessRequest approves or rejects a pending request. Approval adds the
// requester as a member.
func (s *MembershipService) ProcessRequest(churchID, requestID, actorID string, approve bool) (*models.MembershipRequest, error) {
	if !s.Can(churchID, actorID, models.PermProcessRequests) {
		return nil, fmt.Errorf("user %s may not process requests of church %s: %w", actorID, churchID, ErrForbidden)
	}

	s.mu.Lock()
	req, ok := s.requests[requestID]
	if !ok || req.ChurchID != churchID {
		s.mu.Unlock()
		return nil, fmt.Errorf("request %s: %w", requestID, ErrNotFound)
	}
	if req.Status != models.RequestPending {
		s.mu.Unlock()
		return nil, fmt.Errorf("request %s is %s: %w", requestID, req.Status, ErrAlreadyProcessed)
	}

	now := s.now()
	req.ProcessedAt = &now
	req.ProcessedBy = actorID
	req.Status = models.RequestRejected
	if approve {
		req.Status = models.RequestApproved
		s.members[churchID][req.UserID] = &models.Member{
			ChurchID: churchID, UserID: req.UserID, Role: models.RoleMember, JoinedAt: now,
		}
	}
	out := *req
	s.mu.Unlock()

	s.log.Info().Str("church_id", churchID).Str("request_id", requestID).Str("status", string(out.Status)).Msg("Membership request processed")

	publish(s.publisher, s.log, models.EventMembershipProcessed, models.ChurchRoom(churchID), out)
	publish(s.publisher, s.log, models.EventMembershipProcessed, models.UserRoom(out.UserID), out)
	return &out, nil
}

// SetRole changes a member's role. The owner's role cannot change and
// nobody can be made owner.
func (s *MembershipService) SetRole(churchID, actorID, userID string, role models.Role) (*models.Member, error) {
	if _, known := roleGrants[role]; !known || role == models.RoleOwner {
		return nil, fmt.Errorf("role %q: %w", role, ErrInvalidArgument)
	}
	if !s.Can(churchID, actorID, models.PermManageRoles) {
		return nil, fmt.Errorf("user %s may not manage roles of church %s: %w", actorID, churchID, ErrForbidden)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[churchID][userID]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", userID, ErrNotFound)
	}
	if m.Role == models.RoleOwner {
		return nil, fmt.Errorf("the owner's role cannot change: %w", ErrForbidden)
	}
	m.Role = role
	out := *m
	return &out, nil
}
