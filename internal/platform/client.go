// Package platform talks to the remote platform: detection batch uploads,
// engine registration and liveness pings.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/models"
	"github.com/your-org/edgewatch/pkg/dto"
)

// ErrPermanent marks a 4xx response: the request is malformed or rejected
// and must never be retried.
var ErrPermanent = errors.New("permanent upload failure")

type Client struct {
	baseURL  string
	apiKey   string
	deviceID string
	http     *http.Client
}

func NewClient(cfg config.PlatformConfig, deviceID string) *Client {
	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		deviceID: deviceID,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

// UploadBatch delivers one detection batch. 2xx returns the created record
// id; 4xx returns ErrPermanent; 5xx and transport errors are transient.
func (c *Client) UploadBatch(ctx context.Context, result models.DetectionResult, idempotencyKey string) (string, error) {
	req := dto.UploadRequest{
		DeviceID:       c.deviceID,
		FrameSeq:       result.FrameSeq,
		CapturedAt:     result.CapturedAt,
		Detections:     make([]dto.UploadDetection, 0, len(result.Detections)),
		IdempotencyKey: idempotencyKey,
	}
	for _, d := range result.Detections {
		req.Detections = append(req.Detections, dto.UploadDetection{
			Label:      d.Label,
			Confidence: d.Confidence,
			BBox:       d.BBox,
			Mask:       d.Mask,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal upload request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/detections", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("upload batch: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out dto.UploadResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode upload response: %w", err)
		}
		return out.RecordID, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
	default:
		return "", fmt.Errorf("upload rejected: status %d", resp.StatusCode)
	}
}

// Register announces this engine's address and capabilities.
func (c *Client) Register(ctx context.Context, dev config.DeviceConfig, port int) error {
	body, err := json.Marshal(dto.RegisterRequest{
		DeviceID:     dev.ID,
		Address:      dev.Address,
		Port:         port,
		Capabilities: dev.Capabilities,
	})
	if err != nil {
		return fmt.Errorf("marshal register request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/engines/register", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("register engine: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("register engine: status %d", resp.StatusCode)
	}
	return nil
}

// Ping refreshes this engine's liveness record on the platform.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/engines/"+c.deviceID+"/ping", nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ping platform: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("ping platform: status %d", resp.StatusCode)
	}
	return nil
}

// Reachable is a lightweight probe used by the health monitor.
func (c *Client) Reachable(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("platform unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
