package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
)

const postmarkTokenHeader = "X-Postmark-Server-Token"

type postmarkRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// PostmarkClient posts messages to a Postmark-compatible HTTP API.
type PostmarkClient struct {
	HTTP     *http.Client
	endpoint string
	sender   string
	token    string
}

func NewPostmarkClient(baseURL, sender, token string, timeout time.Duration) (*PostmarkClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid email base url %q", baseURL)
	}
	return &PostmarkClient{
		HTTP:     &http.Client{Timeout: timeout},
		endpoint: base.JoinPath("email").String(),
		sender:   sender,
		token:    token,
	}, nil
}

func (c *PostmarkClient) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(postmarkRequest{
		From:     c.sender,
		To:       msg.To,
		Subject:  msg.Subject,
		HtmlBody: msg.HTML,
		TextBody: msg.Text,
	})
	if err != nil {
		return appErrors.NewFatalDelivery(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return appErrors.NewFatalDelivery(0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(postmarkTokenHeader, c.token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return appErrors.NewTransientDelivery(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	failure := fmt.Errorf("email api responded %s: %s", resp.Status, bytes.TrimSpace(detail))
	if retryableStatus(resp.StatusCode) {
		return appErrors.NewTransientDelivery(resp.StatusCode, failure)
	}
	return appErrors.NewFatalDelivery(resp.StatusCode, failure)
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}
