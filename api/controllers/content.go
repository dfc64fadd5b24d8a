package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/postpilot-hq/postpilot-backend/api/middleware"
	"github.com/postpilot-hq/postpilot-backend/api/responses"
	"github.com/postpilot-hq/postpilot-backend/api/validators"
	"github.com/postpilot-hq/postpilot-backend/internal/content"
	"github.com/postpilot-hq/postpilot-backend/internal/ledger"
	"github.com/postpilot-hq/postpilot-backend/pkg/db/models"
	"github.com/postpilot-hq/postpilot-backend/pkg/enums"
	pkgerrors "github.com/postpilot-hq/postpilot-backend/pkg/errors"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
)

type contentRequest struct {
	Body      string   `json:"body" validate:"required,max=3000"`
	Format    string   `json:"format" validate:"omitempty,oneof=text article carousel poll"`
	Hashtags  []string `json:"hashtags" validate:"omitempty,max=30,dive,max=100"`
	MediaURLs []string `json:"media_urls" validate:"omitempty,max=9,dive,url"`
}

type scheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

type contentResponse struct {
	ID             uuid.UUID  `json:"id"`
	Body           string     `json:"body"`
	Format         string     `json:"format"`
	Hashtags       []string   `json:"hashtags,omitempty"`
	MediaURLs      []string   `json:"media_urls,omitempty"`
	State          string     `json:"state"`
	Revision       int        `json:"revision"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	AttemptCount   int        `json:"attempt_count"`
	LastErrorKind  *string    `json:"last_error_kind,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`
	ExternalPostID *string    `json:"external_post_id,omitempty"`
	PublishedAt    *time.Time `json:"published_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toContentResponse(item *models.ContentItem) contentResponse {
	return contentResponse{
		ID:             item.ID,
		Body:           item.Body,
		Format:         string(item.Format),
		Hashtags:       item.Hashtags,
		MediaURLs:      item.MediaURLs,
		State:          string(item.State),
		Revision:       item.Revision,
		ScheduledAt:    item.ScheduledAt,
		AttemptCount:   item.AttemptCount,
		LastErrorKind:  item.LastErrorKind,
		LastError:      item.LastError,
		ExternalPostID: item.ExternalPostID,
		PublishedAt:    item.PublishedAt,
		CreatedAt:      item.CreatedAt,
		UpdatedAt:      item.UpdatedAt,
	}
}

func requestIdentity(ctx context.Context) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(ctx)
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing identity")
	}
	return userID, nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid content id")
	}
	return id, nil
}

func draftInput(req contentRequest) content.DraftInput {
	return content.DraftInput{
		Body:      req.Body,
		Format:    enums.ContentFormat(req.Format),
		Hashtags:  req.Hashtags,
		MediaURLs: req.MediaURLs,
	}
}

func CreateContent(svc *content.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := requestIdentity(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req contentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		item, err := svc.CreateDraft(ctx, userID, draftInput(req))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, toContentResponse(item))
	}
}

func ListContent(svc *content.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := requestIdentity(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 100000)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		items, err := svc.List(ctx, userID, limit, offset)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]contentResponse, 0, len(items))
		for i := range items {
			out = append(out, toContentResponse(&items[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func GetContent(svc *content.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := requestIdentity(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		id, err := pathID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		item, err := svc.Get(ctx, userID, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toContentResponse(item))
	}
}

func UpdateContent(svc *content.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := requestIdentity(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		id, err := pathID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req contentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		item, err := svc.UpdateDraft(ctx, userID, id, draftInput(req))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toContentResponse(item))
	}
}

func DeleteContent(svc *content.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := requestIdentity(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		id, err := pathID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.DeleteDraft(ctx, userID, id); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func ScheduleContent(svc *content.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := requestIdentity(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		id, err := pathID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req scheduleRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		item, err := svc.Schedule(ctx, userID, id, req.ScheduledAt)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toContentResponse(item))
	}
}

func UnscheduleContent(svc *content.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := requestIdentity(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		id, err := pathID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		item, err := svc.Unschedule(ctx, userID, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toContentResponse(item))
	}
}

func ResetContent(svc *content.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := requestIdentity(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		id, err := pathID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		item, err := svc.ResetFailed(ctx, userID, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toContentResponse(item))
	}
}

type attemptResponse struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Outcome        string    `json:"outcome"`
	ExternalPostID *string   `json:"external_post_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListContentAttempts exposes the recorded publish outcomes for one item.
func ListContentAttempts(svc *content.Service, ledgerRepo *ledger.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := requestIdentity(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		id, err := pathID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		// Ownership check before reading the ledger.
		if _, err := svc.Get(ctx, userID, id); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		records, err := ledgerRepo.ListForContent(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]attemptResponse, 0, len(records))
		for _, record := range records {
			out = append(out, attemptResponse{
				IdempotencyKey: record.IdempotencyKey,
				Outcome:        string(record.Outcome),
				ExternalPostID: record.ExternalPostID,
				CreatedAt:      record.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
