package controllers

import (
	"net/http"
	"time"

	"github.com/postpilot-hq/postpilot-backend/api/responses"
	"github.com/postpilot-hq/postpilot-backend/api/validators"
	"github.com/postpilot-hq/postpilot-backend/internal/content"
	"github.com/postpilot-hq/postpilot-backend/internal/engagement"
	pkgerrors "github.com/postpilot-hq/postpilot-backend/pkg/errors"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
)

type snapshotResponse struct {
	Likes       int       `json:"likes"`
	Comments    int       `json:"comments"`
	Shares      int       `json:"shares"`
	Impressions int       `json:"impressions"`
	ObservedAt  time.Time `json:"observed_at"`
}

// ListContentEngagement returns the snapshot history for a published item.
func ListContentEngagement(svc *content.Service, snapshots *engagement.Repository, logg *logger.Logger) http.HandlerFunc {
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
		limit, err := validators.ParseQueryInt(r, "limit", 100, 1, 500)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		item, err := svc.Get(ctx, userID, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if item.ExternalPostID == nil || *item.ExternalPostID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "content has not been published"))
			return
		}

		history, err := snapshots.ListForPost(ctx, *item.ExternalPostID, limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]snapshotResponse, 0, len(history))
		for _, snapshot := range history {
			out = append(out, snapshotResponse{
				Likes:       snapshot.Likes,
				Comments:    snapshot.Comments,
				Shares:      snapshot.Shares,
				Impressions: snapshot.Impressions,
				ObservedAt:  snapshot.ObservedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
