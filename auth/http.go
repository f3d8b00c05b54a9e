package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// detailKeys are checked in order when extracting a human-readable message
// from an error payload.
var detailKeys = []string{"detail", "error", "message"}

// postJSON calls an auth endpoint and decodes the JSON response into out.
// Responses >= 400 become *HTTPError; transport failures wrap the URL.
func (m *Manager) postJSON(ctx context.Context, path string, body any, out any) error {
	url := m.origin + path

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "[auth] marshaling request to %s", url)
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reqBody)
	if err != nil {
		return errors.Wrapf(err, "[auth] building request to %s", url)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to reach %s", url)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "[auth] reading response from %s", url)
	}
	if resp.StatusCode >= 400 {
		return &HTTPError{StatusCode: resp.StatusCode, Detail: extractDetail(raw)}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return errors.Wrapf(err, "invalid JSON response from %s", url)
		}
	}
	return nil
}

// extractDetail pulls a message out of a JSON error body, falling back to the
// raw response text.
func extractDetail(raw []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err == nil {
		for _, key := range detailKeys {
			if v, ok := payload[key]; ok {
				return fmt.Sprintf("%v", v)
			}
		}
	}
	return string(raw)
}
