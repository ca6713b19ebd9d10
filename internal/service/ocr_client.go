package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go-receipt-verification-service/internal/domain"
)

var (
	// ErrOCRUnavailable means no extraction could be attempted at all. The
	// decision engine treats it like absent OCR and flags for manual review.
	ErrOCRUnavailable = errors.New("ocr service unavailable")
	// ErrOCRMalformed means the OCR service answered but the payload could
	// not be interpreted. Fails closed.
	ErrOCRMalformed = errors.New("ocr response malformed")
)

// OCRClient extracts payment details from a stored receipt artifact.
type OCRClient interface {
	Extract(ctx context.Context, artifactURL string) (*OCRExtraction, error)
}

// HTTPOCRClient calls the external OCR service with a bounded timeout. The
// artifact is passed by presigned URL so the receipt bytes never transit
// this process twice.
type HTTPOCRClient struct {
	endpoint string
	client   *http.Client
}

func NewHTTPOCRClient(endpoint string, timeout time.Duration) *HTTPOCRClient {
	return &HTTPOCRClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type ocrRequestPayload struct {
	ArtifactURL string `json:"artifact_url"`
}

type ocrResponsePayload struct {
	Amount       string `json:"amount"`
	Counterparty string `json:"counterparty"`
	Confidence   *int   `json:"confidence"`
}

func (c *HTTPOCRClient) Extract(ctx context.Context, artifactURL string) (*OCRExtraction, error) {
	body, err := json.Marshal(ocrRequestPayload{ArtifactURL: artifactURL})
	if err != nil {
		return nil, fmt.Errorf("encode ocr request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCRUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrOCRUnavailable, resp.StatusCode)
	}

	var payload ocrResponsePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCRMalformed, err)
	}
	amount, err := domain.ParseCents(payload.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOCRMalformed, err)
	}
	if payload.Confidence == nil || *payload.Confidence < 0 || *payload.Confidence > 100 {
		return nil, fmt.Errorf("%w: confidence out of range", ErrOCRMalformed)
	}
	return &OCRExtraction{
		AmountCents:  amount,
		Counterparty: payload.Counterparty,
		Confidence:   *payload.Confidence,
	}, nil
}

// StubOCRClient returns a canned extraction. Used in development and tests.
type StubOCRClient struct {
	Extraction *OCRExtraction
	Err        error
}

func NewStubOCRClient() *StubOCRClient {
	return &StubOCRClient{Extraction: &OCRExtraction{Confidence: 95}}
}

func (c *StubOCRClient) Extract(_ context.Context, _ string) (*OCRExtraction, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	if c.Extraction == nil {
		return nil, ErrOCRUnavailable
	}
	out := *c.Extraction
	return &out, nil
}

// DisabledOCRClient is wired when OCR_MODE=disabled. Every submission then
// lands in manual review.
type DisabledOCRClient struct{}

func NewDisabledOCRClient() *DisabledOCRClient { return &DisabledOCRClient{} }

func (*DisabledOCRClient) Extract(context.Context, string) (*OCRExtraction, error) {
	return nil, ErrOCRUnavailable
}
