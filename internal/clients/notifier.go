package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"nst/gatekeeper/internal/operations"
)

// NotifierClient posts to the notification gateway: moderation channel
// messages and direct user notices.
type NotifierClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewNotifierClient(baseURL string, timeout time.Duration) *NotifierClient {
	return &NotifierClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

func (c *NotifierClient) ResolveChannel(ctx context.Context, name string) (string, bool, error) {
	endpoint := fmt.Sprintf("%s/channels?name=%s", c.baseURL, url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("notifier returned status %d", resp.StatusCode)
	}
	var channel struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&channel); err != nil {
		return "", false, err
	}
	return channel.ID, true, nil
}

func (c *NotifierClient) PostMessage(ctx context.Context, channelID string, msg operations.QueueMessage) (string, error) {
	endpoint := fmt.Sprintf("%s/channels/%s/messages", c.baseURL, url.PathEscape(channelID))
	payload := map[string]string{
		"title":     msg.Title,
		"user_id":   msg.UserID,
		"username":  msg.Username,
		"record_id": msg.RecordID,
		"file_name": msg.FileName,
		"file_url":  msg.FileURL,
	}
	var message struct {
		ID string `json:"id"`
	}
	if err := c.postJSON(ctx, endpoint, payload, &message); err != nil {
		return "", err
	}
	return message.ID, nil
}

func (c *NotifierClient) DirectMessage(ctx context.Context, userID, text string) error {
	endpoint := fmt.Sprintf("%s/users/%s/messages", c.baseURL, url.PathEscape(userID))
	return c.postJSON(ctx, endpoint, map[string]string{"text": text}, nil)
}

func (c *NotifierClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("notifier returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
