package fieldservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotConfigured means base URL or API token is missing. Jobs that
// need the platform treat it as fatal for the whole invocation.
var ErrNotConfigured = errors.New("fieldservice: missing base_url or token")

// APIError is a non-2xx platform response with status and body
// captured for logging.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fieldservice: status=%d body=%s", e.Status, e.Body)
}

// Remote approval states as the platform reports them.
const (
	ApprovalAwaiting = "awaiting response"
	ApprovalApproved = "approved"
	ApprovalDeclined = "declined"
)

type RemoteOption struct {
	ID             string `json:"id"`
	ApprovalStatus string `json:"approval_status"`
	TotalAmount    int64  `json:"total_amount"`
}

type RemoteEstimate struct {
	ID            string         `json:"id"`
	Number        string         `json:"number"`
	CustomerID    string         `json:"customer_id"`
	CustomerName  string         `json:"customer_name"`
	CustomerEmail string         `json:"customer_email"`
	CustomerPhone string         `json:"customer_phone"`
	AssignedTo    string         `json:"assigned_to"` // employee name
	ProposalURL   string         `json:"proposal_url"`
	TotalAmount   int64          `json:"total_amount"`
	Options       []RemoteOption `json:"options"`
}

// EstimatePage is one page of the platform's estimate listing.
type EstimatePage struct {
	Estimates  []RemoteEstimate `json:"estimates"`
	Page       int              `json:"page"`
	TotalPages int              `json:"total_pages"`
}

type Client interface {
	ListEstimates(ctx context.Context, start, end time.Time, page int) (*EstimatePage, error)
	DeclineOptions(ctx context.Context, optionIDs []string) error
}

type HTTPClient struct {
	baseURL  string
	token    string
	pageSize int
	client   *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// WithPageSize sets the per_page hint sent on listing requests. Zero
// leaves paging to the platform's default.
func (c *HTTPClient) WithPageSize(n int) *HTTPClient { c.pageSize = n; return c }

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) configured() bool {
	return c.baseURL != "" && c.token != ""
}

func (c *HTTPClient) ListEstimates(ctx context.Context, start, end time.Time, page int) (*EstimatePage, error) {
	if !c.configured() {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("start_date", start.Format("2006-01-02"))
	q.Set("end_date", end.Format("2006-01-02"))
	q.Set("page", strconv.Itoa(page))
	if c.pageSize > 0 {
		q.Set("per_page", strconv.Itoa(c.pageSize))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/estimates?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return nil, readAPIError(res)
	}

	var pg EstimatePage
	if err := json.NewDecoder(res.Body).Decode(&pg); err != nil {
		return nil, fmt.Errorf("fieldservice: decode estimates page: %w", err)
	}
	return &pg, nil
}

func (c *HTTPClient) DeclineOptions(ctx context.Context, optionIDs []string) error {
	if !c.configured() {
		return ErrNotConfigured
	}
	if len(optionIDs) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string][]string{"option_ids": optionIDs})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/estimates/options/decline", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return readAPIError(res)
	}
	return nil
}

func readAPIError(res *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return &APIError{Status: res.StatusCode, Body: string(bytes.TrimSpace(b))}
}
