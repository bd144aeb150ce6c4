package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/config"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// Client deletes users from the identity provider's admin API. It implements
// domain.IdentityDirectory.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  domain.Logger
}

func NewClient(cfg config.IdentityConfig, logger domain.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("identity base url is not configured")
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: config.Seconds(cfg.TimeoutSeconds, 10*time.Second)},
		logger:  logger,
	}, nil
}

// DeleteUser returns domain.ErrNotFound when the provider no longer knows externalID.
func (c *Client) DeleteUser(ctx context.Context, externalID string) error {
	if externalID == "" {
		return domain.NewValidationError("delete identity", fmt.Errorf("empty external id"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/users/"+url.PathEscape(externalID), nil)
	if err != nil {
		return domain.NewValidationError("delete identity", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.NewTransientError("delete identity", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.Debug(ctx, "Identity deleted", "external_id", externalID)
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return domain.NewTransientError("delete identity", fmt.Errorf("identity provider returned %d", resp.StatusCode))
	default:
		return domain.NewPartialError("delete identity", fmt.Errorf("identity provider returned %d", resp.StatusCode))
	}
}
