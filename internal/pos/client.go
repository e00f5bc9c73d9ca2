package pos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const searchPageSize = 100

// Client talks to the order provider's REST API. Pagination stays inside
// this package: callers always receive the full result set.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger

	markerMu   sync.Mutex
	rushMarker string
}

func NewClient(baseURL, token, rushMarker string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		rushMarker: rushMarker,
		httpClient: &http.Client{Timeout: 8 * time.Second},
		logger:     logger,
	}
}

// SetRushMarker swaps the ticket-name substring that flags rush orders.
// The marker is editable from the settings screen, so the poller pushes
// the stored value here before each fetch.
func (c *Client) SetRushMarker(marker string) {
	c.markerMu.Lock()
	c.rushMarker = marker
	c.markerMu.Unlock()
}

func (c *Client) currentRushMarker() string {
	c.markerMu.Lock()
	defer c.markerMu.Unlock()
	return c.rushMarker
}

type searchRequest struct {
	LocationIDs []string     `json:"location_ids"`
	Cursor      string       `json:"cursor,omitempty"`
	Limit       int          `json:"limit"`
	Query       *searchQuery `json:"query,omitempty"`
}

type searchQuery struct {
	Filter *searchFilter `json:"filter,omitempty"`
	Sort   *searchSort   `json:"sort,omitempty"`
}

type searchFilter struct {
	StateFilter *struct {
		States []string `json:"states"`
	} `json:"state_filter,omitempty"`
	DateTimeFilter *struct {
		CreatedAt *rawTimeRange `json:"created_at,omitempty"`
		ClosedAt  *rawTimeRange `json:"closed_at,omitempty"`
	} `json:"date_time_filter,omitempty"`
}

type rawTimeRange struct {
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
}

type searchSort struct {
	SortField string `json:"sort_field"`
	SortOrder string `json:"sort_order"`
}

type searchResponse struct {
	Orders []rawOrder `json:"orders"`
	Cursor string     `json:"cursor"`
}

// SearchOrders returns normalized orders matching the state filter within
// timeRange (by created_at for open states, closed_at when only COMPLETED is
// requested). Records that fail normalization are dropped with a logged
// reason.
func (c *Client) SearchOrders(ctx context.Context, states []OrderState, timeRange *TimeRange, locationIDs []string) ([]Order, error) {
	if len(locationIDs) == 0 {
		return nil, nil
	}

	filter := &searchFilter{}
	filter.StateFilter = &struct {
		States []string `json:"states"`
	}{States: stateStrings(states)}

	if timeRange != nil {
		rawRange := &rawTimeRange{
			StartAt: timeRange.StartAt.UTC().Format(time.RFC3339),
			EndAt:   timeRange.EndAt.UTC().Format(time.RFC3339),
		}
		dtf := &struct {
			CreatedAt *rawTimeRange `json:"created_at,omitempty"`
			ClosedAt  *rawTimeRange `json:"closed_at,omitempty"`
		}{}
		if len(states) == 1 && states[0] == StateCompleted {
			dtf.ClosedAt = rawRange
		} else {
			dtf.CreatedAt = rawRange
		}
		filter.DateTimeFilter = dtf
	}

	request := searchRequest{
		LocationIDs: locationIDs,
		Limit:       searchPageSize,
		Query: &searchQuery{
			Filter: filter,
			Sort:   &searchSort{SortField: "CREATED_AT", SortOrder: "DESC"},
		},
	}

	marker := c.currentRushMarker()
	orders := make([]Order, 0, searchPageSize)
	for {
		var page searchResponse
		if err := c.doJSON(ctx, http.MethodPost, "/v2/orders/search", request, &page); err != nil {
			return nil, err
		}
		for _, raw := range page.Orders {
			order, err := normalizeOrder(raw, marker)
			if err != nil {
				c.logger.Warn("dropping unmappable order record",
					zap.String("orderId", raw.ID),
					zap.Error(err))
				continue
			}
			orders = append(orders, order)
		}
		if page.Cursor == "" {
			return orders, nil
		}
		request.Cursor = page.Cursor
	}
}

type locationsResponse struct {
	Locations []Location `json:"locations"`
}

// ListLocations returns the provider's ACTIVE locations.
func (c *Client) ListLocations(ctx context.Context) ([]Location, error) {
	var payload locationsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v2/locations", nil, &payload); err != nil {
		return nil, err
	}
	active := make([]Location, 0, len(payload.Locations))
	for _, location := range payload.Locations {
		if location.Status == "ACTIVE" && location.ID != "" {
			active = append(active, location)
		}
	}
	return active, nil
}

type retrieveResponse struct {
	Order rawOrder `json:"order"`
}

type updateOrderRequest struct {
	Order struct {
		LocationID string `json:"location_id"`
		Version    int64  `json:"version"`
		State      string `json:"state"`
	} `json:"order"`
	IdempotencyKey string `json:"idempotency_key"`
}

// CompleteOrder marks the order COMPLETED at the provider. The update is
// version-stamped and carries an idempotency key, so it is safe to retry and
// safe to receive the echoing push event afterwards.
func (c *Client) CompleteOrder(ctx context.Context, orderID string) error {
	return c.updateState(ctx, orderID, StateCompleted)
}

// ReopenOrder moves a completed order back to OPEN. Best-effort: some
// providers refuse the transition once the day is closed out.
func (c *Client) ReopenOrder(ctx context.Context, orderID string) error {
	return c.updateState(ctx, orderID, StateOpen)
}

func (c *Client) updateState(ctx context.Context, orderID string, state OrderState) error {
	var current retrieveResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v2/orders/"+orderID, nil, &current); err != nil {
		return fmt.Errorf("retrieve order %s: %w", orderID, err)
	}

	request := updateOrderRequest{IdempotencyKey: uuid.NewString()}
	request.Order.LocationID = current.Order.LocationID
	request.Order.Version = current.Order.Version
	request.Order.State = string(state)

	if err := c.doJSON(ctx, http.MethodPut, "/v2/orders/"+orderID, request, nil); err != nil {
		return fmt.Errorf("update order %s to %s: %w", orderID, state, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("provider returned %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}

	decoder := json.NewDecoder(res.Body)
	decoder.UseNumber()
	return decoder.Decode(out)
}

func stateStrings(states []OrderState) []string {
	out := make([]string, 0, len(states))
	for _, state := range states {
		out = append(out, string(state))
	}
	return out
}
