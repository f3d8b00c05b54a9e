package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/Nonlinear-FOD/lab-client/internal/utils"
	"github.com/Nonlinear-FOD/lab-client/sessions"
)

// fallbackVerificationURL is shown when the server does not return a
// verification URL of its own.
const fallbackVerificationURL = "https://github.com/login/device"

const defaultPollInterval = 5 // seconds

type deviceStartResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	// Interval is a pointer so an explicit 0 from the server is honored.
	Interval *int `json:"interval"`
}

type devicePollResponse struct {
	Status   string `json:"status"`
	Interval *int   `json:"interval"`
	Detail   string `json:"detail"`
	sessions.TokenGrant
}

// deviceFlow runs the interactive OAuth2 device-code login: display a user
// code, open the verification URL, and poll at the server-dictated interval
// until authorization completes or fails. Blocks until then; cancellation
// comes from ctx.
func (m *Manager) deviceFlow(ctx context.Context) (*sessions.Session, error) {
	var start deviceStartResponse
	if err := m.postJSON(ctx, "/auth/device/start", nil, &start); err != nil {
		return nil, err
	}

	verification := start.VerificationURIComplete
	if verification == "" {
		verification = start.VerificationURI
	}
	visit := verification
	if visit == "" {
		visit = fallbackVerificationURL
	}
	fmt.Fprintf(
		m.out,
		"[remote-lab] Sign in to GitHub to access %s:\n  1. Visit %s\n  2. Enter the code: %s\n",
		m.origin,
		visit,
		start.UserCode,
	)
	if verification != "" {
		utils.BestEffort(m.log, "opening browser", func() error {
			return m.openBrowser(verification)
		})
	}

	interval := defaultPollInterval
	if start.Interval != nil {
		interval = *start.Interval
	}
	for {
		if err := sleep(ctx, time.Duration(interval)*time.Second); err != nil {
			return nil, err
		}
		var poll devicePollResponse
		body := map[string]string{"device_code": start.DeviceCode}
		if err := m.postJSON(ctx, "/auth/device/poll", body, &poll); err != nil {
			return nil, err
		}
		switch poll.Status {
		case "pending":
			// The server may slow us down (or speed us up) mid-flow.
			if poll.Interval != nil {
				interval = *poll.Interval
			}
		case "ok":
			return sessions.Normalize(poll.TokenGrant, m.nowTime())
		default:
			detail := poll.Detail
			if detail == "" {
				detail = "device flow failed"
			}
			return nil, errors.Errorf("[auth.deviceFlow] %s", detail)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
