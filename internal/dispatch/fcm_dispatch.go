package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-companion/internal/models"
)

// FCMDispatcher posts JSON to an FCM HTTP v1 style endpoint. Each user is
// addressed through the topic "user-<id>" that the mobile app subscribes to.
type FCMDispatcher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMDispatcher(endpoint, key string) *FCMDispatcher {
	return &FCMDispatcher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMDispatcher) Notify(ctx context.Context, userID string, n models.Notification) error {
	data := map[string]string{
		"type":      string(n.Type),
		"reference": n.Reference,
		"priority":  n.Priority,
	}
	for k, v := range n.Data {
		data[k] = fmt.Sprint(v)
	}
	body := map[string]interface{}{"message": map[string]interface{}{
		"topic":        "user-" + userID,
		"notification": map[string]string{"title": n.Title, "body": n.Message},
		"data":         data,
	}}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fcm status %d", resp.StatusCode)
	}
	return nil
}
