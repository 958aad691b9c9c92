// Package telemetry posts a best-effort per-request summary to an
// operator-configured endpoint. Failures are logged at debug level and
// never affect request handling.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const postTimeout = 5 * time.Second

// Summary is the per-request telemetry payload.
type Summary struct {
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"requestId"`
	Endpoint     string    `json:"endpoint"`
	ProviderType string    `json:"providerType"`
	CredentialID string    `json:"credentialId"`
	Model        string    `json:"model"`
	Streamed     bool      `json:"streamed"`
	StatusCode   int       `json:"statusCode"`
	DurationMs   int64     `json:"durationMs"`
	Retries      int       `json:"retries"`
}

// Reporter posts summaries. A nil reporter or an empty URL disables
// reporting.
type Reporter struct {
	url        string
	httpClient *http.Client
}

// NewReporter builds a reporter for the given URL; empty URL returns nil.
func NewReporter(url string) *Reporter {
	if url == "" {
		return nil
	}
	return &Reporter{
		url:        url,
		httpClient: &http.Client{Timeout: postTimeout},
	}
}

// Report fires one summary post in the background.
func (r *Reporter) Report(summary Summary) {
	if r == nil {
		return
	}
	summary.Timestamp = time.Now()
	go r.post(summary)
}

func (r *Reporter) post(summary Summary) {
	payload, err := json.Marshal(summary)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		log.Debugf("telemetry: post failed: %v", err)
		return
	}
	_ = resp.Body.Close()
}
