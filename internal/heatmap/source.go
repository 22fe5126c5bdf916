package heatmap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"llmdash/internal/models"
	"llmdash/internal/version"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fetchTimeout bounds one utilization fetch so a hung request cannot leave
// the dashboard in the loading state past the next scheduled cycle.
const fetchTimeout = 10 * time.Second

// HTTPSource fetches utilization batches from the admin API over HTTP.
type HTTPSource struct {
	URL    string
	Token  string // optional bearer token forwarded to the endpoint
	Client *http.Client
}

// NewHTTPSource builds a source for the given utilization endpoint URL.
func NewHTTPSource(url, token string) *HTTPSource {
	return &HTTPSource{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: fetchTimeout},
	}
}

// Fetch requests one utilization batch. Transport failures, non-2xx statuses
// and undecodable payloads are all returned as errors; payload-level errors
// (status "error") are returned in the envelope for the caller to interpret.
func (s *HTTPSource) Fetch(ctx context.Context) (*models.UtilizationEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("heatmap: build request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("heatmap: fetch utilization: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("heatmap: read response: %w", err)
	}

	var env models.UtilizationEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// An intermediary's HTML error page is not an envelope; report the
		// status so the display says "HTTP 502" rather than a decode error.
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("heatmap: fetch utilization: HTTP %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("heatmap: decode response: %w", err)
	}
	// The API encodes its own failures in the envelope; trust those over the
	// HTTP status so the server-supplied message reaches the display.
	if resp.StatusCode != http.StatusOK && env.Status != models.StatusError {
		return nil, fmt.Errorf("heatmap: fetch utilization: HTTP %d", resp.StatusCode)
	}
	return &env, nil
}

// StoreSource reads utilization batches directly from a local provider,
// bypassing HTTP when the poller runs inside the admin process.
type StoreSource struct {
	Provider func(ctx context.Context) (*models.UtilizationEnvelope, error)
}

// Fetch delegates to the wrapped provider.
func (s *StoreSource) Fetch(ctx context.Context) (*models.UtilizationEnvelope, error) {
	return s.Provider(ctx)
}
