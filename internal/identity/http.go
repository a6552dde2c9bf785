package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPProvider creates identities through a remote identity service.
type HTTPProvider struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPProvider constructs a provider for baseURL.
func NewHTTPProvider(baseURL, token string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type createResponse struct {
	ExternalID string `json:"external_id"`
	Error      string `json:"error,omitempty"`
}

// CreateIdentity POSTs to /identities. The idempotency key travels in the
// Idempotency-Key header so the remote side can deduplicate retries.
func (p *HTTPProvider) CreateIdentity(ctx context.Context, req Request) (Identity, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Identity{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/identities", bytes.NewReader(body))
	if err != nil {
		return Identity{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return Identity{}, unavailable("identity service unreachable", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Identity{}, unavailable("identity service response truncated", err)
	}
	var decoded createResponse
	_ = json.Unmarshal(raw, &decoded)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if decoded.ExternalID == "" {
			return Identity{}, &Failure{Code: CodeInvalid, Detail: "response carried no external_id"}
		}
		return Identity{ExternalID: decoded.ExternalID}, nil
	case resp.StatusCode == http.StatusConflict:
		return Identity{}, &Failure{Code: CodeConflict, Detail: detail(decoded, resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Identity{}, unavailable(detail(decoded, resp.StatusCode), nil)
	default:
		return Identity{}, &Failure{Code: CodeInvalid, Detail: detail(decoded, resp.StatusCode)}
	}
}

func detail(resp createResponse, status int) string {
	if resp.Error != "" {
		return resp.Error
	}
	return fmt.Sprintf("status %d", status)
}
