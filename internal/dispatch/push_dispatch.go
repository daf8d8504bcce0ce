package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/glass-allocation/internal/models"
)

// Dispatcher delivers an offer notification record to a shop. Delivery
// mechanics past this boundary (app push, email) belong to the
// notification side of the system.
type Dispatcher interface {
	Notify(ctx context.Context, offer models.JobOffer) error
}

// PushDispatcher tries the shop's live WS session first and falls back
// to posting the notification record to the shop-app backend.
type PushDispatcher struct {
	Endpoint string
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushDispatcher(endpoint string, ws *WSRegistry) *PushDispatcher {
	return &PushDispatcher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushDispatcher) Notify(ctx context.Context, offer models.JobOffer) error {
	if p.WS != nil {
		if err := p.WS.Notify(offer); err == nil {
			return nil
		}
	}
	if p.Endpoint == "" {
		return ErrNoSession
	}
	payload := map[string]any{"shop_id": offer.ShopID, "offer": offer}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}
