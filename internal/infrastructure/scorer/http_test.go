package scorer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/content-approval/internal/domain/policy"
)

func TestHTTPScorer_Score(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/score", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var in scoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, policy.DimensionBrandSafety, in.Dimension)
		assert.Equal(t, "Launch day", in.Content.Title)

		_, _ = w.Write([]byte(`{"passed":true,"score":0.93}`))
	}))
	defer srv.Close()

	s := NewHTTPScorer(srv.URL+"/", time.Second)
	got, err := s.Score(context.Background(), policy.Content{Title: "Launch day"}, policy.DimensionBrandSafety)
	require.NoError(t, err)
	assert.True(t, got.Passed)
	require.NotNil(t, got.Score)
	assert.InDelta(t, 0.93, *got.Score, 1e-9)
}

func TestHTTPScorer_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPScorer(srv.URL, time.Second).Score(context.Background(), policy.Content{}, policy.DimensionCompliance)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestHTTPScorer_NotConfigured(t *testing.T) {
	_, err := NewHTTPScorer("", 0).Score(context.Background(), policy.Content{}, policy.DimensionQuality)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
