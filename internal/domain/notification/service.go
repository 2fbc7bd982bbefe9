package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/opd"
	"github.com/hms/hms/internal/platform/auth"
)

const (
	maxTitleLen  = 255
	maxUserIDLen = 255
)

type Service struct {
	repo   Repository
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, now: time.Now, logger: logger}
}

// Page is a page of a user's notifications plus their unread total.
type Page struct {
	Items       []*Notification
	Total       int
	UnreadCount int
}

// owner resolves whose notifications the caller is addressing. Only admins
// may act on another user's notifications.
func owner(caller auth.Caller, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || userID == caller.UserID {
		return caller.UserID, nil
	}
	if !caller.HasRole(auth.RoleAdmin) {
		return "", fmt.Errorf("%w: cannot access notifications of another user", ErrForbidden)
	}
	return userID, nil
}

func (s *Service) List(ctx context.Context, caller auth.Caller, f ListFilter) (*Page, error) {
	userID, err := owner(caller, f.UserID)
	if err != nil {
		return nil, err
	}
	f.UserID = userID

	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Notification{}
	}
	return &Page{Items: items, Total: total, UnreadCount: unread}, nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Notification, error) {
	n := &Notification{
		UserID:      strings.TrimSpace(req.UserID),
		Title:       strings.TrimSpace(req.Title),
		Message:     strings.TrimSpace(req.Message),
		Type:        req.Type,
		Link:        req.Link,
		EncounterID: req.EncounterID,
		PatientID:   req.PatientID,
	}
	if n.UserID == "" || n.Title == "" || n.Message == "" {
		return nil, fmt.Errorf("%w: userId, title, and message are required", ErrValidation)
	}
	if len(n.UserID) > maxUserIDLen || len(n.Title) > maxTitleLen {
		return nil, fmt.Errorf("%w: userId and title are limited to 255 characters", ErrValidation)
	}
	if n.Type == "" {
		n.Type = TypeInfo
	}
	if !validType(n.Type) {
		return nil, fmt.Errorf("%w: unknown notification type %q", ErrValidation, n.Type)
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Notify stores a notice raised by the OPD queue.
func (s *Service) Notify(ctx context.Context, notice opd.Notice) error {
	req := CreateRequest{
		UserID:  notice.UserID,
		Title:   notice.Title,
		Message: notice.Message,
		Type:    TypeInfo,
	}
	if notice.Link != "" {
		req.Link = &notice.Link
	}
	if notice.PatientID != uuid.Nil {
		pid := notice.PatientID
		req.PatientID = &pid
	}
	_, err := s.Create(ctx, req)
	return err
}

// authorize loads the notification and checks the caller owns it.
func (s *Service) authorize(ctx context.Context, caller auth.Caller, id uuid.UUID) error {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := owner(caller, n.UserID); err != nil {
		return err
	}
	return nil
}

func (s *Service) SetRead(ctx context.Context, caller auth.Caller, id uuid.UUID, read bool) (*Notification, error) {
	if err := s.authorize(ctx, caller, id); err != nil {
		return nil, err
	}
	return s.repo.SetRead(ctx, id, read, s.now())
}

func (s *Service) MarkAllRead(ctx context.Context, caller auth.Caller, userID string) (int64, error) {
	userID, err := owner(caller, userID)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, err
	}
	s.logger.Debug().Str("user_id", userID).Int64("updated", n).Msg("notifications marked read")
	return n, nil
}

func (s *Service) Delete(ctx context.Context, caller auth.Caller, id uuid.UUID) error {
	if err := s.authorize(ctx, caller, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}
