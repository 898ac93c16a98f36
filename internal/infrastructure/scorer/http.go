package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/execution-hub/content-approval/internal/domain/policy"
)

// ErrNotConfigured is returned when no scorer endpoint is set. The check
// runner turns it into a policy escalation like any provider outage.
var ErrNotConfigured = errors.New("policy scorer endpoint not configured")

type scoreRequest struct {
	Dimension policy.Dimension `json:"dimension"`
	Content   policy.Content   `json:"content"`
}

// HTTPScorer calls a remote classifier: POST {baseURL}/score with the
// dimension and content, expecting a policy.Score body.
type HTTPScorer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPScorer(baseURL string, timeout time.Duration) *HTTPScorer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPScorer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPScorer) Score(ctx context.Context, content policy.Content, dimension policy.Dimension) (policy.Score, error) {
	if s.baseURL == "" {
		return policy.Score{}, ErrNotConfigured
	}
	body, err := json.Marshal(scoreRequest{Dimension: dimension, Content: content})
	if err != nil {
		return policy.Score{}, fmt.Errorf("failed to encode score request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return policy.Score{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return policy.Score{}, fmt.Errorf("failed to call scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return policy.Score{}, fmt.Errorf("scorer returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out policy.Score
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return policy.Score{}, fmt.Errorf("failed to decode score: %w", err)
	}
	return out, nil
}
