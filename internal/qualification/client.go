// Package qualification is the HTTP boundary to the external
// technician-qualification service.
package qualification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/glass-allocation/internal/models"
)

// Client queries the qualification service for one shop at a time.
type Client struct {
	Endpoint string
	Client   *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

// Qualified asks whether the shop holds technicians qualified for the
// service/damage/vehicle combination. Errors are returned as-is: the
// eligibility filter treats a failed check as a hard failure.
func (c *Client) Qualified(ctx context.Context, shopID string, serviceType models.ServiceType, damageType, vehicleMake string) (bool, error) {
	q := url.Values{}
	q.Set("shop_id", shopID)
	q.Set("service_type", string(serviceType))
	q.Set("damage_type", damageType)
	q.Set("vehicle_make", vehicleMake)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"/v1/qualifications?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("qualification service returned %d", resp.StatusCode)
	}
	var out models.QualificationResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, err
	}
	return out.Qualified && out.TechnicianCount > 0, nil
}
