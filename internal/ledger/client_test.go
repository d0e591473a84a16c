package ledger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DukeRupert/soundloft/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestParseQuota(t *testing.T) {
	reset := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		body string
		want Quota
	}{
		{
			name: "flat camelCase",
			body: `{"tier":"free","uploadLimit":3,"uploadsThisMonth":2,"resetDate":"2026-11-01T00:00:00Z"}`,
			want: Quota{Tier: domain.TierFree, RawTier: "free", KnownTier: true, UploadLimit: intPtr(3), UploadsThisMonth: 2, ResetDate: &reset},
		},
		{
			name: "flat snake_case",
			body: `{"tier":"premium","upload_limit":null,"uploads_this_month":40,"reset_date":"2026-11-01"}`,
			want: Quota{Tier: domain.TierPremium, RawTier: "premium", KnownTier: true, UploadsThisMonth: 40, ResetDate: &reset},
		},
		{
			name: "nested quota object",
			body: `{"quota":{"tier":"unlimited","uploadsThisMonth":7}}`,
			want: Quota{Tier: domain.TierUnlimited, RawTier: "unlimited", KnownTier: true, UploadsThisMonth: 7},
		},
		{
			name: "tier as object",
			body: `{"tier":{"name":"premium"},"uploadsThisMonth":1}`,
			want: Quota{Tier: domain.TierPremium, RawTier: "premium", KnownTier: true, UploadsThisMonth: 1},
		},
		{
			name: "nested quota with outer tier object",
			body: `{"tier":{"id":"enterprise"},"quota":{"uploadLimit":10,"uploadsThisMonth":4}}`,
			want: Quota{Tier: domain.TierUnlimited, RawTier: "enterprise", KnownTier: true, UploadLimit: intPtr(10), UploadsThisMonth: 4},
		},
		{
			name: "legacy pro label",
			body: `{"tier":"pro"}`,
			want: Quota{Tier: domain.TierPremium, RawTier: "pro", KnownTier: true},
		},
		{
			name: "unknown label falls back to free",
			body: `{"tier":"gold","uploadLimit":5}`,
			want: Quota{Tier: domain.TierFree, RawTier: "gold", KnownTier: false, UploadLimit: intPtr(5)},
		},
		{
			name: "missing tier",
			body: `{"uploadsThisMonth":-4}`,
			want: Quota{Tier: domain.TierFree},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseQuota([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseQuota_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"tier as number", `{"tier":42}`},
		{"bad reset date", `{"tier":"free","resetDate":"next tuesday"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseQuota([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestClient_GetQuota(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tier":"premium","uploadsThisMonth":12}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second)
	q, err := c.GetQuota(context.Background(), "tok_abc")
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok_abc", gotAuth)
	assert.Equal(t, QuotaPath, gotPath)
	assert.Equal(t, domain.TierPremium, q.Tier)
	assert.Equal(t, 12, q.UploadsThisMonth)
}

func TestClient_GetQuota_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.GetQuota(context.Background(), "tok")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "upstream exploded")
}

func TestClient_GetQuota_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, 50*time.Millisecond)
	_, err := c.GetQuota(context.Background(), "tok")
	assert.Error(t, err)
}

func TestClient_GetQuota_MissingToken(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", time.Second)
	_, err := c.GetQuota(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingToken)
}
