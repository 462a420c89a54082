package scheduling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/coachbook/libs/availability"
)

// Provider returns a coach's timezone and weekly windows. found is false when
// the coach is unknown; callers treat that as an empty schedule.
type Provider interface {
	GetSchedule(ctx context.Context, coachID string) (schedule availability.Schedule, found bool, err error)
}

var ErrUnavailable = errors.New("schedule source unavailable")

// NewProvider returns an HTTP provider for coach-service, or nil when baseURL is empty.
func NewProvider(baseURL string) (Provider, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, nil
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("coach service url must be http(s) (got %q)", baseURL)
	}
	return NewHTTPProvider(baseURL, nil), nil
}

// Fetch resolves a schedule through p. A nil provider yields an empty schedule.
func Fetch(ctx context.Context, p Provider, coachID string) (availability.Schedule, error) {
	if p == nil {
		return availability.Schedule{CoachID: coachID}, nil
	}
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	schedule, found, err := p.GetSchedule(reqCtx, coachID)
	if err != nil {
		return availability.Schedule{}, err
	}
	if !found {
		return availability.Schedule{CoachID: coachID}, nil
	}
	return schedule, nil
}

func statusError(status int) error {
	return fmt.Errorf("%w: coach service returned %d %s", ErrUnavailable, status, http.StatusText(status))
}
