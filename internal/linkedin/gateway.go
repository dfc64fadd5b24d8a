// Package linkedin wraps the LinkedIn REST surface the pipeline depends on:
// publishing UGC posts, reading engagement numbers and refreshing OAuth
// credentials. Every failure is mapped onto a coded error so callers can
// decide retry policy without inspecting HTTP details.
package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/postpilot-hq/postpilot-backend/pkg/config"
	"github.com/postpilot-hq/postpilot-backend/pkg/enums"
	apperrors "github.com/postpilot-hq/postpilot-backend/pkg/errors"
	"github.com/postpilot-hq/postpilot-backend/pkg/logger"
)

const restliProtocolVersion = "2.0.0"

// ClientParams carries the dependencies for the gateway client.
type ClientParams struct {
	Config config.LinkedInConfig
	Logger *logger.Logger

	// HTTPClient overrides the default transport, used by tests.
	HTTPClient *http.Client
}

// Client is the publish gateway. A process-wide limiter caps the request
// rate before LinkedIn has to; upstream 429s are still surfaced as
// RateLimited errors when they happen.
type Client struct {
	cfg     config.LinkedInConfig
	http    *http.Client
	limiter *rate.Limiter
	logg    *logger.Logger
}

func NewClient(params ClientParams) (*Client, error) {
	if params.Config.BaseURL == "" {
		return nil, fmt.Errorf("linkedin base url is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	httpClient := params.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	rps := params.Config.RateLimitRPS
	if rps <= 0 {
		rps = 5
	}
	burst := params.Config.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		cfg:     params.Config,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logg:    params.Logger,
	}, nil
}

// PublishRequest is one publish intent headed for the ugcPosts endpoint.
type PublishRequest struct {
	AccessToken string
	MemberURN   string
	Body        string
	Format      enums.ContentFormat
	Hashtags    []string
	MediaURLs   []string
}

// Publish creates the post and returns the platform URN on success.
func (c *Client) Publish(ctx context.Context, req PublishRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", apperrors.Wrap(apperrors.CodeTimeout, err, "waiting for rate limiter")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()

	payload, err := json.Marshal(buildUGCPost(req))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, err, "encoding publish payload")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/ugcPosts", bytes.NewReader(payload))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, err, "building publish request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Restli-Protocol-Version", restliProtocolVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", transportError(err, "publishing post")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", statusError(resp, "publishing post")
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.ID == "" {
		// Some responses carry the URN only in the header.
		if headerID := resp.Header.Get("X-Restli-Id"); headerID != "" {
			return headerID, nil
		}
		return "", apperrors.Wrap(apperrors.CodeTransientNetwork, err, "publish response missing post id")
	}
	return body.ID, nil
}

// EngagementCounts are the per-post numbers the reconciler snapshots.
type EngagementCounts struct {
	Likes       int
	Comments    int
	Shares      int
	Impressions int
}

// FetchMetrics reads current engagement for a published post. A 404 on the
// social actions resource means the post no longer exists upstream and is
// surfaced as CodeNotFound.
func (c *Client) FetchMetrics(ctx context.Context, accessToken, postURN string) (*EngagementCounts, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTimeout, err, "waiting for rate limiter")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.MetricsTimeout)
	defer cancel()

	counts := &EngagementCounts{}

	endpoint := c.cfg.BaseURL + "/socialActions/" + url.PathEscape(postURN)
	var social struct {
		LikesSummary struct {
			TotalLikes int `json:"totalLikes"`
		} `json:"likesSummary"`
		CommentsSummary struct {
			AggregatedTotalComments int `json:"aggregatedTotalComments"`
		} `json:"commentsSummary"`
	}
	if err := c.getJSON(ctx, accessToken, endpoint, &social); err != nil {
		return nil, err
	}
	counts.Likes = social.LikesSummary.TotalLikes
	counts.Comments = social.CommentsSummary.AggregatedTotalComments

	statsEndpoint := c.cfg.BaseURL + "/memberShareStatistics?q=share&share=" + url.QueryEscape(postURN)
	var stats struct {
		Elements []struct {
			TotalShareStatistics struct {
				ShareCount      int `json:"shareCount"`
				ImpressionCount int `json:"impressionCount"`
			} `json:"totalShareStatistics"`
		} `json:"elements"`
	}
	if err := c.getJSON(ctx, accessToken, statsEndpoint, &stats); err != nil {
		// Share statistics lag behind post creation; a missing element is
		// not the same as a deleted post.
		if apperrors.CodeOf(err) != apperrors.CodeNotFound {
			return nil, err
		}
	} else if len(stats.Elements) > 0 {
		counts.Shares = stats.Elements[0].TotalShareStatistics.ShareCount
		counts.Impressions = stats.Elements[0].TotalShareStatistics.ImpressionCount
	}

	return counts, nil
}

func (c *Client) getJSON(ctx context.Context, accessToken, endpoint string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "building metrics request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("X-Restli-Protocol-Version", restliProtocolVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return transportError(err, "fetching metrics")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return apperrors.New(apperrors.CodeNotFound, "post not found upstream")
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(resp, "fetching metrics")
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.CodeTransientNetwork, err, "decoding metrics response")
	}
	return nil
}

// transportError maps connection-level failures. Deadline hits become
// Timeout; everything else is treated as transient.
func transportError(err error, action string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.CodeTimeout, err, action+" timed out")
	}
	return apperrors.Wrap(apperrors.CodeTransientNetwork, err, action+" failed")
}

// statusError maps non-success HTTP statuses onto the error taxonomy the
// dispatcher retries on.
func statusError(resp *http.Response, action string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	var code apperrors.Code
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		code = apperrors.CodeRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		code = apperrors.CodeAuthRequired
	case resp.StatusCode >= http.StatusInternalServerError:
		code = apperrors.CodeTransientNetwork
	default:
		code = apperrors.CodeRejected
	}

	return apperrors.New(code, fmt.Sprintf("%s: upstream returned %d", action, resp.StatusCode)).
		WithDetails(string(snippet))
}
