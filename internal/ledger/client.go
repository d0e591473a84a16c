// Package ledger is a client for the backend quota ledger.
//
// The ledger is the backend's record of upload counts. It is authoritative
// for historical counts but may lag the entitlement provider on tier.
// Responses come in several shapes; they are normalized into Quota as soon
// as they are decoded.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/soundloft/internal/domain"
)

// QuotaPath is the ledger endpoint for the caller's quota.
const QuotaPath = "/v1/quota"

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 1 << 20

// ErrMissingToken is returned when no bearer token is supplied.
var ErrMissingToken = errors.New("ledger: missing access token")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ledger: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Quota is the canonical ledger answer.
type Quota struct {
	Tier domain.StorageTier
	// RawTier is the label as sent by the backend, before normalization.
	RawTier string
	// KnownTier is false when RawTier was not recognised and Tier fell back to free.
	KnownTier        bool
	UploadLimit      *int
	UploadsThisMonth int
	ResetDate        *time.Time
}

// Client fetches quota records from the ledger.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a ledger client. timeout bounds every request.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetQuota fetches the quota record for the user owning accessToken.
func (c *Client) GetQuota(ctx context.Context, accessToken string) (*Quota, error) {
	if accessToken == "" {
		return nil, ErrMissingToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+QuotaPath, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("ledger: read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	return parseQuota(body)
}

// =============================================================================
// Response decoding
// =============================================================================

// wireQuota covers the flat shape and the fields of the nested one. Both
// camelCase and snake_case keys have been seen in the wild.
type wireQuota struct {
	Tier json.RawMessage `json:"tier"`

	UploadLimit      *int `json:"uploadLimit"`
	UploadLimitSnake *int `json:"upload_limit"`

	UploadsThisMonth      *int `json:"uploadsThisMonth"`
	UploadsThisMonthSnake *int `json:"uploads_this_month"`

	ResetDate      *string `json:"resetDate"`
	ResetDateSnake *string `json:"reset_date"`
}

type wireEnvelope struct {
	wireQuota
	Quota *wireQuota `json:"quota"`
}

// wireTier is the object form of the tier field.
type wireTier struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

func parseQuota(body []byte) (*Quota, error) {
	var env wireEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("ledger: decode quota: %w", err)
	}

	w := env.wireQuota
	if env.Quota != nil {
		w = mergeWire(*env.Quota, env.wireQuota)
	}

	rawTier, err := decodeTier(w.Tier)
	if err != nil {
		return nil, err
	}
	tier, known := domain.NormalizeTier(rawTier)

	q := &Quota{
		Tier:        tier,
		RawTier:     rawTier,
		KnownTier:   known,
		UploadLimit: firstInt(w.UploadLimit, w.UploadLimitSnake),
	}
	if n := firstInt(w.UploadsThisMonth, w.UploadsThisMonthSnake); n != nil && *n > 0 {
		q.UploadsThisMonth = *n
	}
	if s := firstString(w.ResetDate, w.ResetDateSnake); s != nil && *s != "" {
		t, err := parseTime(*s)
		if err != nil {
			return nil, fmt.Errorf("ledger: invalid reset date %q: %w", *s, err)
		}
		q.ResetDate = &t
	}

	return q, nil
}

// mergeWire fills gaps in the nested record from the outer one.
func mergeWire(inner, outer wireQuota) wireQuota {
	if len(inner.Tier) == 0 || string(inner.Tier) == "null" {
		inner.Tier = outer.Tier
	}
	if inner.UploadLimit == nil && inner.UploadLimitSnake == nil {
		inner.UploadLimit = firstInt(outer.UploadLimit, outer.UploadLimitSnake)
	}
	if inner.UploadsThisMonth == nil && inner.UploadsThisMonthSnake == nil {
		inner.UploadsThisMonth = firstInt(outer.UploadsThisMonth, outer.UploadsThisMonthSnake)
	}
	if inner.ResetDate == nil && inner.ResetDateSnake == nil {
		inner.ResetDate = firstString(outer.ResetDate, outer.ResetDateSnake)
	}
	return inner
}

// decodeTier accepts "premium" or {"name": "premium"}.
func decodeTier(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var obj wireTier
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("ledger: unsupported tier shape: %s", truncate(string(raw), 64))
	}
	if obj.Name != "" {
		return obj.Name, nil
	}
	return obj.ID, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func firstInt(vals ...*int) *int {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstString(vals ...*string) *string {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
