package ess

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/raterudder/energyhub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockRoundTripper is a mock implementation of http.RoundTripper.
type MockRoundTripper struct {
	Handler func(req *http.Request) (*http.Response, error)
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.Handler(req)
}

func TestGivEnergyGetEnergyDetails(t *testing.T) {
	var pages []string
	rt := &MockRoundTripper{
		Handler: func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "/v1/inverter/ABC12345/data-points/2025-01-01", req.URL.Path, "Unexpected request URL")
			assert.Equal(t, "Bearer dummyBearerToken", req.Header.Get("Authorization"))
			page := req.URL.Query().Get("page")
			pages = append(pages, page)

			var responseBody string
			switch page {
			case "1":
				responseBody = `{
					"data": [
						{"time": "2025-01-01T00:30:00Z", "total": {"grid": {"import": 1845.4, "export": 1630}}},
						{"time": "2025-01-01T00:00:00Z", "total": {"grid": {"import": 1842.3, "export": 1629.9}}}
					],
					"meta": {"current_page": 1, "last_page": 2}
				}`
			default:
				responseBody = `{
					"data": [
						{"time": "2025-01-01T01:00:00Z", "total": {"grid": {"import": 1846.0, "export": 1630.5}}},
						{"time": "2025-01-01T01:30:00Z", "total": {"grid": {"import": 0.2, "export": 0.1}}}
					],
					"meta": {"current_page": 2, "last_page": 2}
				}`
			}
			h := make(http.Header)
			h.Set("Content-Type", "application/json")
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(bytes.NewReader([]byte(responseBody))),
				Header:     h,
			}, nil
		},
	}

	g := NewGivEnergy(rt, "dummyBearerToken", "ABC12345", time.UTC)
	require.NoError(t, g.Validate())
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	ed, err := g.GetEnergyDetails(context.Background(), start, start.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, pages)
	assert.Equal(t, types.UnitKWh, ed.Unit)

	require.Len(t, ed.Timestamps, 3)
	assert.True(t, ed.Timestamps[0].Equal(start))
	purchased := ed.Series[types.SeriesPurchased]
	require.Len(t, purchased, 3)
	assert.InDelta(t, 3.1, purchased[0], 1e-9)
	assert.InDelta(t, 0.6, purchased[1], 1e-9)
	assert.Equal(t, 0.0, purchased[2], "counter resets count as no energy")
	assert.InDelta(t, 0.1, ed.Series[types.SeriesFeedIn][0], 1e-9)
}

func TestGivEnergyValidate(t *testing.T) {
	g := NewGivEnergy(&MockRoundTripper{}, "", "", nil)
	assert.True(t, strings.Contains(g.Validate().Error(), "givenergy-inverter-serial"))
}
