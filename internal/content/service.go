package content

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/postpilot-hq/postpilot-backend/pkg/db/models"
	"github.com/postpilot-hq/postpilot-backend/pkg/enums"
	apperrors "github.com/postpilot-hq/postpilot-backend/pkg/errors"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxBodyLength    = 3000
)

// ServiceParams carries the dependencies for the content service.
type ServiceParams struct {
	Repo   *Repository
	Logger *logger.Logger
}

// Service owns the user-facing content lifecycle: draft CRUD, scheduling
// and the manual reset of failed items. The publisher side talks to the
// repository directly.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("content repository is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Service{
		repo: params.Repo,
		logg: params.Logger,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// DraftInput holds the editable fields of a content item.
type DraftInput struct {
	Body      string
	Format    enums.ContentFormat
	Hashtags  []string
	MediaURLs []string
}

func (in *DraftInput) normalize() error {
	in.Body = strings.TrimSpace(in.Body)
	if in.Body == "" {
		return apperrors.New(apperrors.CodeValidation, "body is required")
	}
	if len(in.Body) > maxBodyLength {
		return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("body exceeds %d characters", maxBodyLength))
	}
	if in.Format == "" {
		in.Format = enums.FormatText
	}
	if !in.Format.IsValid() {
		return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid format %q", in.Format))
	}

	cleaned := make([]string, 0, len(in.Hashtags))
	for _, tag := range in.Hashtags {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
		if tag != "" {
			cleaned = append(cleaned, tag)
		}
	}
	in.Hashtags = cleaned
	return nil
}

// CreateDraft stores a new item in draft with revision 1 and its derived
// idempotency key.
func (s *Service) CreateDraft(ctx context.Context, userID uuid.UUID, input DraftInput) (*models.ContentItem, error) {
	if err := input.normalize(); err != nil {
		return nil, err
	}

	id := uuid.New()
	item := &models.ContentItem{
		ID:             id,
		UserID:         userID,
		Body:           input.Body,
		Format:         input.Format,
		Hashtags:       pq.StringArray(input.Hashtags),
		MediaURLs:      pq.StringArray(input.MediaURLs),
		State:          enums.ContentDraft,
		Revision:       1,
		IdempotencyKey: models.PublishIntentKey(id, 1),
		MetricsState:   enums.MetricsActive,
	}

	if err := s.repo.Create(ctx, item); err != nil {
		return nil, err
	}

	ctx = s.logg.WithContentID(ctx, item.ID.String())
	s.logg.Info(ctx, "draft created")
	return item, nil
}

// UpdateDraft rewrites an editable item. The revision bump invalidates any
// idempotency key derived from the previous body.
func (s *Service) UpdateDraft(ctx context.Context, userID, id uuid.UUID, input DraftInput) (*models.ContentItem, error) {
	if err := input.normalize(); err != nil {
		return nil, err
	}

	item, err := s.repo.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if item.State != enums.ContentDraft && item.State != enums.ContentScheduled {
		return nil, apperrors.New(
			apperrors.CodeStateConflict,
			fmt.Sprintf("cannot edit content in state %s", item.State),
		)
	}

	item.Body = input.Body
	item.Format = input.Format
	item.Hashtags = pq.StringArray(input.Hashtags)
	item.MediaURLs = pq.StringArray(input.MediaURLs)

	updated, err := s.repo.UpdateEditable(ctx, item, item.Revision)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, apperrors.New(apperrors.CodeConflict, "content item changed concurrently")
	}

	return s.repo.GetForUser(ctx, userID, id)
}

// Schedule moves a draft to scheduled at the given UTC time.
func (s *Service) Schedule(ctx context.Context, userID, id uuid.UUID, at time.Time) (*models.ContentItem, error) {
	at = at.UTC()
	if !at.After(s.now()) {
		return nil, apperrors.New(apperrors.CodeValidation, "scheduled_at must be in the future")
	}

	item, err := s.repo.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	swapped, err := s.repo.CompareAndSwapState(ctx, item.ID, enums.ContentDraft, enums.ContentScheduled, map[string]any{
		"scheduled_at": at,
	})
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, apperrors.New(
			apperrors.CodeStateConflict,
			fmt.Sprintf("cannot schedule content in state %s", item.State),
		)
	}

	ctx = s.logg.WithContentID(ctx, item.ID.String())
	s.logg.Info(s.logg.WithField(ctx, "scheduled_at", at), "content scheduled")
	return s.repo.GetForUser(ctx, userID, id)
}

// Unschedule returns a scheduled item to draft before the publisher claims it.
func (s *Service) Unschedule(ctx context.Context, userID, id uuid.UUID) (*models.ContentItem, error) {
	item, err := s.repo.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	swapped, err := s.repo.CompareAndSwapState(ctx, item.ID, enums.ContentScheduled, enums.ContentDraft, map[string]any{
		"scheduled_at": nil,
	})
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, apperrors.New(
			apperrors.CodeStateConflict,
			fmt.Sprintf("cannot unschedule content in state %s", item.State),
		)
	}

	return s.repo.GetForUser(ctx, userID, id)
}

// ResetFailed returns a failed item to draft under a fresh revision so a
// later publish runs as a new intent.
func (s *Service) ResetFailed(ctx context.Context, userID, id uuid.UUID) (*models.ContentItem, error) {
	item, err := s.repo.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if item.State != enums.ContentFailed {
		return nil, apperrors.New(
			apperrors.CodeStateConflict,
			fmt.Sprintf("cannot reset content in state %s", item.State),
		)
	}

	reset, err := s.repo.ResetFailed(ctx, item.ID, item.Revision)
	if err != nil {
		return nil, err
	}
	if !reset {
		return nil, apperrors.New(apperrors.CodeConflict, "content item changed concurrently")
	}

	ctx = s.logg.WithContentID(ctx, item.ID.String())
	s.logg.Info(ctx, "failed content reset to draft")
	return s.repo.GetForUser(ctx, userID, id)
}

// Get loads a single item owned by the user.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*models.ContentItem, error) {
	return s.repo.GetForUser(ctx, userID, id)
}

// List returns the user's items, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.ContentItem, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// DeleteDraft removes a draft that was never scheduled.
func (s *Service) DeleteDraft(ctx context.Context, userID, id uuid.UUID) error {
	deleted, err := s.repo.DeleteDraft(ctx, userID, id)
	if err != nil {
		return err
	}
	if !deleted {
		item, getErr := s.repo.GetForUser(ctx, userID, id)
		if getErr != nil {
			return getErr
		}
		return apperrors.New(
			apperrors.CodeStateConflict,
			fmt.Sprintf("cannot delete content in state %s", item.State),
		)
	}
	return nil
}
