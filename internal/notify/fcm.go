package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
)

const fcmScope = "https://www.googleapis.com/auth/firebase.messaging"

// FCMPusher sends messages through the Firebase Cloud Messaging HTTP v1 API.
type FCMPusher struct {
	client    *http.Client
	endpoint  string
	projectID string
}

// NewFCMPusher authenticates with a service-account key file.
func NewFCMPusher(ctx context.Context, endpoint, projectID, credentialsFile string) (*FCMPusher, error) {
	key, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read fcm credentials: %w", err)
	}
	jwtCfg, err := google.JWTConfigFromJSON(key, fcmScope)
	if err != nil {
		return nil, fmt.Errorf("parse fcm credentials: %w", err)
	}
	return NewFCMPusherWithClient(jwtCfg.Client(ctx), endpoint, projectID), nil
}

// NewFCMPusherWithClient uses client as is; it must attach credentials.
func NewFCMPusherWithClient(client *http.Client, endpoint, projectID string) *FCMPusher {
	return &FCMPusher{
		client:    client,
		endpoint:  strings.TrimRight(endpoint, "/"),
		projectID: projectID,
	}
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

// Push delivers msg to token. It returns ErrTokenInvalid when FCM reports
// the token as unregistered or malformed.
func (p *FCMPusher) Push(ctx context.Context, token string, msg Message) error {
	body, err := json.Marshal(fcmRequest{Message: fcmMessage{
		Token:        token,
		Notification: fcmNotification{Title: msg.Title, Body: msg.Body},
		Data:         msg.Data,
	}})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/v1/projects/%s/messages:send", p.endpoint, p.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var fe fcmErrorBody
	_ = json.Unmarshal(raw, &fe)
	for _, d := range fe.Error.Details {
		if d.ErrorCode == "UNREGISTERED" || d.ErrorCode == "INVALID_ARGUMENT" {
			return fmt.Errorf("fcm %s: %w", d.ErrorCode, ErrTokenInvalid)
		}
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("fcm status %d: %w", resp.StatusCode, ErrTokenInvalid)
	}
	return fmt.Errorf("fcm status %d: %s", resp.StatusCode, strings.TrimSpace(fe.Error.Message))
}

// LogPusher only logs messages. It stands in when no push provider is
// configured.
type LogPusher struct{ Logger *zap.Logger }

func (p LogPusher) Push(_ context.Context, token string, msg Message) error {
	if p.Logger != nil {
		p.Logger.Info("push (log only)",
			zap.String("title", msg.Title),
			zap.String("body", msg.Body),
			zap.Int("token_len", len(token)))
	}
	return nil
}
