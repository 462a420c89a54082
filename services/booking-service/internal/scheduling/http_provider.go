package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/md-rashed-zaman/coachbook/libs/availability"
	"github.com/md-rashed-zaman/coachbook/libs/httpx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider builds a provider against coach-service. A nil client gets
// a traced client with a short timeout.
func NewHTTPProvider(baseURL string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   3 * time.Second,
		}
	}
	return &HTTPProvider{baseURL: baseURL, client: client}
}

func (p *HTTPProvider) GetSchedule(ctx context.Context, coachID string) (availability.Schedule, bool, error) {
	u := p.baseURL + "/internal/v1/schedules?coach_id=" + url.QueryEscape(coachID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return availability.Schedule{}, false, err
	}
	req.Header.Set("Accept", "application/json")
	if rid := httpx.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set(httpx.RequestIDHeader, rid)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return availability.Schedule{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return availability.Schedule{}, false, nil
	case resp.StatusCode != http.StatusOK:
		return availability.Schedule{}, false, statusError(resp.StatusCode)
	}

	var schedule availability.Schedule
	if err := json.NewDecoder(resp.Body).Decode(&schedule); err != nil {
		return availability.Schedule{}, false, fmt.Errorf("decode schedule: %w", err)
	}
	if schedule.CoachID == "" {
		schedule.CoachID = coachID
	}
	return schedule, true, nil
}
