// Package gateway is the HTTP client for the signal-cli REST API.
//
// The dispatcher only needs accept/reject semantics from it: every transport
// error, non-2xx response, or unreadable attachment surfaces as a plain error
// with no retries here.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	URL     string // base URL, e.g. "http://localhost:8080"
	Number  string // sender identity registered with signal-cli
	Timeout time.Duration
}

type Client struct {
	baseURL string
	number  string
	httpc   *http.Client
	log     zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		number:  cfg.Number,
		httpc:   &http.Client{Timeout: timeout},
		log:     log,
	}
}

// sendRequest is the /v2/send wire body: the message, exactly one recipient
// group, the fixed sender number, and optionally one inline attachment.
type sendRequest struct {
	Message           string   `json:"message"`
	Recipients        []string `json:"recipients"`
	Number            string   `json:"number"`
	Base64Attachments []string `json:"base64_attachments,omitempty"`
}

// Deliver sends one message to one group, blocking until the gateway accepts
// or rejects it (or the client timeout fires). When imagePath is set the file
// is read fully and inlined base64-encoded.
func (c *Client) Deliver(ctx context.Context, groupID, message, imagePath string) error {
	payload := sendRequest{
		Message:    message,
		Recipients: []string{groupID},
		Number:     c.number,
	}
	if imagePath != "" {
		img, err := os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("read attachment %s: %w", imagePath, err)
		}
		payload.Base64Attachments = []string{base64.StdEncoding.EncodeToString(img)}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug().Str("group_id", groupID).Bool("has_image", imagePath != "").Msg("posting to gateway")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("send to group %s: %w", groupID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send to group %s: gateway returned %s: %s", groupID, resp.Status, strings.TrimSpace(string(detail)))
	}
	return nil
}

// Group is one Signal group the sender number is a member of.
type Group struct {
	ID          string `json:"id"`
	InternalID  string `json:"internal_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Groups lists the sender's groups via /v1/groups/<number>.
func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	url := c.baseURL + "/v1/groups/" + c.number
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list groups: gateway returned %s", resp.Status)
	}

	var groups []Group
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		return nil, fmt.Errorf("decode groups response: %w", err)
	}
	for i := range groups {
		if strings.TrimSpace(groups[i].Name) == "" {
			groups[i].Name = "Unnamed Group"
		}
	}
	return groups, nil
}
