package linkedin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/postpilot-hq/postpilot-backend/internal/token"
	"github.com/postpilot-hq/postpilot-backend/pkg/config"
	apperrors "github.com/postpilot-hq/postpilot-backend/pkg/errors"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
)

// Refresher performs the OAuth refresh-token grant against the LinkedIn
// token endpoint. The interactive authorization handshake happens outside
// this service; only stored refresh tokens ever pass through here.
type Refresher struct {
	cfg  config.LinkedInConfig
	http *http.Client
	logg *logger.Logger
	now  func() time.Time
}

var _ token.Refresher = (*Refresher)(nil)

func NewRefresher(cfg config.LinkedInConfig, logg *logger.Logger, httpClient *http.Client) (*Refresher, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("linkedin token url is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("linkedin client credentials are required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Refresher{
		cfg:  cfg,
		http: httpClient,
		logg: logg,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*token.RefreshedCredential, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RefreshTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", r.cfg.ClientID)
	form.Set("client_secret", r.cfg.ClientSecret)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "building refresh request")
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Wrap(apperrors.CodeTimeout, err, "token refresh timed out")
		}
		return nil, apperrors.Wrap(apperrors.CodeTransientNetwork, err, "token refresh failed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.New(apperrors.CodeRateLimited, "token endpoint rate limited")
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, apperrors.New(apperrors.CodeTransientNetwork,
			fmt.Sprintf("token endpoint returned %d", resp.StatusCode))
	default:
		// invalid_grant and friends: the refresh token is gone for good.
		return nil, apperrors.New(apperrors.CodeUnrecoverable,
			fmt.Sprintf("token endpoint rejected refresh with %d", resp.StatusCode))
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		ExpiresIn    int    `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
		Scope        string `json:"scope"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTransientNetwork, err, "decoding refresh response")
	}
	if body.AccessToken == "" {
		return nil, apperrors.New(apperrors.CodeTransientNetwork, "refresh response missing access token")
	}

	// LinkedIn rotates the refresh token on some grants and echoes the old
	// one on others.
	newRefresh := body.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	var scopes []string
	if body.Scope != "" {
		scopes = strings.Split(body.Scope, ",")
	}

	return &token.RefreshedCredential{
		AccessToken:  body.AccessToken,
		RefreshToken: newRefresh,
		ExpiresAt:    r.now().Add(time.Duration(body.ExpiresIn) * time.Second),
		Scopes:       scopes,
	}, nil
}
