package fieldservice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	testEnd   = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
)

func TestListEstimatesRequestShape(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_ = json.NewEncoder(w).Encode(EstimatePage{
			Estimates:  []RemoteEstimate{{ID: "fs-1", Number: "EST-1"}},
			Page:       2,
			TotalPages: 3,
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "sekrit", 5*time.Second).WithPageSize(50)
	pg, err := c.ListEstimates(context.Background(), testStart, testEnd, 2)
	require.NoError(t, err)

	assert.Equal(t, "/estimates", got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "2026-03-01", q.Get("start_date"))
	assert.Equal(t, "2026-03-10", q.Get("end_date"))
	assert.Equal(t, "2", q.Get("page"))
	assert.Equal(t, "50", q.Get("per_page"))
	assert.Equal(t, "Bearer sekrit", got.Header.Get("Authorization"))

	assert.Equal(t, 2, pg.Page)
	assert.Equal(t, 3, pg.TotalPages)
	require.Len(t, pg.Estimates, 1)
	assert.Equal(t, "fs-1", pg.Estimates[0].ID)
}

func TestListEstimatesOmitsPerPageByDefault(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(EstimatePage{})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "sekrit", 5*time.Second)
	_, err := c.ListEstimates(context.Background(), testStart, testEnd, 1)
	require.NoError(t, err)
	assert.NotContains(t, query, "per_page")
}

func TestListEstimatesSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "sekrit", 5*time.Second)
	_, err := c.ListEstimates(context.Background(), testStart, testEnd, 1)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Contains(t, apiErr.Body, "rate limited")
}

func TestDeclineOptionsPostsIDs(t *testing.T) {
	var (
		path        string
		contentType string
		payload     map[string][]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "sekrit", 5*time.Second)
	err := c.DeclineOptions(context.Background(), []string{"opt-1", "opt-2"})
	require.NoError(t, err)

	assert.Equal(t, "/estimates/options/decline", path)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, []string{"opt-1", "opt-2"}, payload["option_ids"])
}

func TestDeclineOptionsSkipsEmptyBatch(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "sekrit", 5*time.Second)
	require.NoError(t, c.DeclineOptions(context.Background(), nil))
	assert.False(t, called)
}

func TestMissingCredentials(t *testing.T) {
	c := NewHTTPClient("", "", 5*time.Second)

	_, err := c.ListEstimates(context.Background(), testStart, testEnd, 1)
	require.ErrorIs(t, err, ErrNotConfigured)

	err = c.DeclineOptions(context.Background(), []string{"opt-1"})
	require.ErrorIs(t, err, ErrNotConfigured)
}
