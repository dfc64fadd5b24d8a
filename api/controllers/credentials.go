package controllers

import (
	"net/http"
	"time"

	"github.com/lib/pq"

	"github.com/postpilot-hq/postpilot-backend/api/responses"
	"github.com/postpilot-hq/postpilot-backend/api/validators"
	"github.com/postpilot-hq/postpilot-backend/internal/token"
	"github.com/postpilot-hq/postpilot-backend/pkg/db/models"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
)

// credentialRequest is posted by the OAuth callback collaborator once the
// external handshake completes.
type credentialRequest struct {
	MemberURN    string    `json:"member_urn" validate:"required"`
	AccessToken  string    `json:"access_token" validate:"required"`
	RefreshToken string    `json:"refresh_token" validate:"required"`
	ExpiresAt    time.Time `json:"expires_at" validate:"required"`
	Scopes       []string  `json:"scopes" validate:"omitempty,dive,min=1"`
}

func StoreCredential(store *token.Store, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := requestIdentity(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req credentialRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		cred := &models.OAuthCredential{
			UserID:       userID,
			MemberURN:    req.MemberURN,
			AccessToken:  req.AccessToken,
			RefreshToken: req.RefreshToken,
			ExpiresAt:    req.ExpiresAt.UTC(),
			Scopes:       pq.StringArray(req.Scopes),
		}

		if err := store.Save(ctx, cred); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"member_urn": cred.MemberURN,
			"expires_at": cred.ExpiresAt,
		})
	}
}

func DeleteCredential(store *token.Store, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := requestIdentity(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := store.Delete(ctx, userID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
