package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"despacho/internal/domain"
	"despacho/internal/handler"
)

// APIError is a structured rejection from the reconciliation server. Code is
// the machine-readable wire code from ErrorResponse; it is empty for errors
// the server considers transient.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Remaining  string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server rejected request (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// Permanent reports whether retrying the same request can never succeed.
// Validation and state-machine rejections carry a wire code and a 4xx status;
// everything else (network failures, 5xx) is treated as transient.
func (e *APIError) Permanent() bool {
	return e.Code != "" && e.StatusCode < 500
}

// Client talks to the reconciliation server's HTTP API on behalf of the
// in-truck agent.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the given server base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// GetLedger fetches a ledger snapshot with its allocations.
func (c *Client) GetLedger(ctx context.Context, ledgerID string) (*handler.LedgerResponse, error) {
	var out handler.LedgerResponse
	err := c.do(ctx, http.MethodGet, "/v1/ledgers/"+ledgerID, "", nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// StartTrip creates a trip on the server for the driver and ledger.
func (c *Client) StartTrip(ctx context.Context, ledgerID, driverID string) (*handler.TripResponse, error) {
	var out handler.TripResponse
	err := c.do(ctx, http.MethodPost, "/v1/trips", "", handler.StartTripRequest{
		LedgerID: ledgerID,
		DriverID: driverID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// EndTrip closes a trip on the server.
func (c *Client) EndTrip(ctx context.Context, tripID string) (*handler.TripResponse, error) {
	var out handler.TripResponse
	err := c.do(ctx, http.MethodPost, "/v1/trips/"+tripID+"/end", "", nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// StartDelivery transitions an allocation to IN_PROGRESS.
func (c *Client) StartDelivery(ctx context.Context, ledgerID, allocationID string) (*handler.LedgerResponse, error) {
	var out handler.LedgerResponse
	err := c.do(ctx, http.MethodPost, allocationPath(ledgerID, allocationID), "", handler.UpdateAllocationRequest{
		Status: string(domain.AllocationStatusInProgress),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CompleteDelivery submits a COMPLETE_DELIVERY operation. The operation ID
// travels as the Idempotency-Key so retries of a request that actually landed
// replay the stored outcome instead of decrementing the ledger twice.
func (c *Client) CompleteDelivery(ctx context.Context, opID string, p domain.CompleteDeliveryPayload) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, allocationPath(p.LedgerID, p.AllocationID), opID, handler.UpdateAllocationRequest{
		Status:            string(domain.AllocationStatusCompleted),
		DeliveredQuantity: p.DeliveredQuantity,
		MarkerInitial:     p.MarkerInitial,
		MarkerFinal:       p.MarkerFinal,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateLocation submits an UPDATE_LOCATION operation.
func (c *Client) UpdateLocation(ctx context.Context, opID string, p domain.UpdateLocationPayload) error {
	return c.do(ctx, http.MethodPost, "/v1/drivers/"+p.DriverID+"/location", opID, handler.UpdateLocationRequest{
		Lat:       p.Location.Lat,
		Lng:       p.Location.Lng,
		Timestamp: p.Location.Timestamp.Format(time.RFC3339),
	}, nil)
}

// ClearLocation removes the driver from the server's fleet position view.
func (c *Client) ClearLocation(ctx context.Context, driverID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/drivers/"+driverID+"/location", "", nil, nil)
}

// AttachEvidence submits an ATTACH_EVIDENCE operation.
func (c *Client) AttachEvidence(ctx context.Context, opID string, p domain.AttachEvidencePayload) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, allocationPath(p.LedgerID, p.AllocationID)+"/evidence", opID, handler.AttachEvidenceRequest{
		Stage: string(p.Stage),
		URL:   p.URL,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func allocationPath(ledgerID, allocationID string) string {
	return "/v1/assignments/" + ledgerID + "/clients/" + allocationID
}

// do executes one request. Network errors come back as plain errors
// (transient); HTTP error statuses come back as *APIError.
func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var wire handler.ErrorResponse
		_ = json.Unmarshal(data, &wire)
		message := wire.Error
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       wire.Code,
			Message:    message,
			Remaining:  wire.Remaining,
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
