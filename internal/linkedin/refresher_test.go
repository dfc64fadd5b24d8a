package linkedin

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpilot-hq/postpilot-backend/pkg/config"
	apperrors "github.com/postpilot-hq/postpilot-backend/pkg/errors"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
)

func newTestRefresher(t *testing.T, tokenURL string) *Refresher {
	t.Helper()

	refresher, err := NewRefresher(config.LinkedInConfig{
		TokenURL:       tokenURL,
		ClientID:       "client-id",
		ClientSecret:   "client-secret",
		RefreshTimeout: 2 * time.Second,
	}, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}), nil)
	require.NoError(t, err)
	return refresher
}

func TestRefresh_exchangesGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-old", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))

		_, _ = w.Write([]byte(`{
			"access_token": "at-new",
			"expires_in": 3600,
			"refresh_token": "rt-new",
			"scope": "w_member_social,r_organization_social"
		}`))
	}))
	defer srv.Close()

	refresher := newTestRefresher(t, srv.URL)

	cred, err := refresher.Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "at-new", cred.AccessToken)
	assert.Equal(t, "rt-new", cred.RefreshToken)
	assert.Equal(t, []string{"w_member_social", "r_organization_social"}, cred.Scopes)
	assert.True(t, cred.ExpiresAt.After(time.Now().UTC().Add(55*time.Minute)))
}

func TestRefresh_echoesOldTokenWhenNotRotated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token": "at-new", "expires_in": 3600}`))
	}))
	defer srv.Close()

	refresher := newTestRefresher(t, srv.URL)

	cred, err := refresher.Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "rt-old", cred.RefreshToken)
}

func TestRefresh_errorTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   apperrors.Code
	}{
		{"rate limited", http.StatusTooManyRequests, apperrors.CodeRateLimited},
		{"server error", http.StatusInternalServerError, apperrors.CodeTransientNetwork},
		{"invalid grant", http.StatusBadRequest, apperrors.CodeUnrecoverable},
		{"unauthorized client", http.StatusUnauthorized, apperrors.CodeUnrecoverable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			refresher := newTestRefresher(t, srv.URL)

			_, err := refresher.Refresh(context.Background(), "rt-old")
			require.Error(t, err)
			assert.Equal(t, tc.code, apperrors.CodeOf(err))
		})
	}
}

func TestRefresh_missingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"expires_in": 3600}`))
	}))
	defer srv.Close()

	refresher := newTestRefresher(t, srv.URL)

	_, err := refresher.Refresh(context.Background(), "rt-old")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeTransientNetwork, apperrors.CodeOf(err))
}
