package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"go-receipt-verification-service/internal/database"
	"go-receipt-verification-service/internal/domain"
	"go-receipt-verification-service/internal/http/handler"
	"go-receipt-verification-service/internal/http/middleware"
	"go-receipt-verification-service/internal/http/router"
	"go-receipt-verification-service/internal/repository"
	"go-receipt-verification-service/internal/service"
)

const testWebhookSecret = "integration-webhook-secret-0123456789"

// codeRecorder stands in for the out-of-band delivery channel so tests can
// read back the code a real user would receive.
type codeRecorder struct {
	mu    sync.Mutex
	codes map[string]string
}

func newCodeRecorder() *codeRecorder {
	return &codeRecorder{codes: make(map[string]string)}
}

func (r *codeRecorder) Deliver(_ context.Context, subject string, _ domain.Role, code string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[subject] = code
	return nil
}

func (r *codeRecorder) codeFor(t *testing.T, subject string) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.codes[subject]
	if !ok {
		t.Fatalf("no code delivered to %q", subject)
	}
	return code
}

type pipelineEnv struct {
	baseURL     string
	client      *http.Client
	codes       *codeRecorder
	ocr         *service.StubOCRClient
	db          *gorm.DB
	submissions repository.ReceiptSubmissionRepository
}

type pipelineOptions struct {
	policy *service.DecisionPolicy
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	return newPipelineEnvWithOptions(t, pipelineOptions{})
}

func newPipelineEnvWithOptions(t *testing.T, opts pipelineOptions) *pipelineEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	submissions := repository.NewReceiptSubmissionRepository(db)
	escalations := repository.NewEscalationRepository(db)
	audit := repository.NewAuditRepository(db)
	deliveries := repository.NewWebhookDeliveryRepository(db)

	codes := newCodeRecorder()
	otp := service.NewOTPManager(
		service.NewRedisCredentialStore(rdb, "otp"),
		service.NewRedisIssuanceLimiter(rdb, 100, 100, time.Minute, "otp"),
		codes,
		audit,
		log,
		service.OTPManagerConfig{
			TTL:         5 * time.Minute,
			ExpiryGrace: time.Minute,
			MaxAttempts: 3,
			Pepper:      "integration-pepper",
		},
	)

	guard := service.NewWebhookGuard(
		service.NewRedisReplayLedger(rdb, 5*time.Minute, "webhook"),
		deliveries,
		audit,
		log,
		service.WebhookGuardConfig{
			Secret:          testWebhookSecret,
			FreshnessWindow: 5 * time.Minute,
		},
	)

	policy := service.DecisionPolicy{
		HighValueThresholdCents: 100_000_000,
		MinConfidence:           75,
		ToleranceBP:             200,
	}
	if opts.policy != nil {
		policy = *opts.policy
	}
	ocr := service.NewStubOCRClient()
	receipts := service.NewReceiptService(
		submissions,
		escalations,
		service.NewNoopReceiptStorage(),
		ocr,
		audit,
		log,
		policy,
	)
	escalationSvc := service.NewEscalationService(escalations, submissions, otp, audit, log, []string{"ceo@corp"})

	r := router.New(router.Dependencies{
		Logger:          log,
		Webhook:         handler.NewWebhookHandler(guard, otp, receipts, log),
		OTP:             handler.NewOTPHandler(otp, log),
		Receipts:        handler.NewReceiptHandler(receipts, otp, log),
		Escalations:     handler.NewEscalationHandler(escalationSvc, log),
		Audit:           handler.NewAuditHandler(audit, log),
		ClientIP:        middleware.NewClientIPResolver(nil),
		Limiter:         middleware.NewLocalFixedWindowLimiter(),
		APIRateLimitRPM: 10_000,
		OTPRateLimitRPM: 10_000,
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &pipelineEnv{
		baseURL:     srv.URL,
		client:      srv.Client(),
		codes:       codes,
		ocr:         ocr,
		db:          db,
		submissions: submissions,
	}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *pipelineEnv) doJSON(t *testing.T, method, path string, body any) (*http.Response, apiEnvelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.baseURL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope for %s %s: %v", method, path, err)
	}
	return resp, env
}

// issueCode requests a credential over the API and returns the code that
// landed on the delivery channel.
func (e *pipelineEnv) issueCode(t *testing.T, subject, role string) string {
	t.Helper()
	resp, env := e.doJSON(t, http.MethodPost, "/api/v1/otp/issue", map[string]string{
		"subject": subject,
		"role":    role,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue for %q: status %d error=%+v", subject, resp.StatusCode, env.Error)
	}
	return e.codes.codeFor(t, subject)
}

type submitReceiptForm struct {
	orderID     string
	subject     string
	code        string
	amount      string
	orderAmount string
	currency    string
	contentType string
	artifact    []byte
}

func (e *pipelineEnv) submitReceipt(t *testing.T, form submitReceiptForm) (*http.Response, apiEnvelope) {
	t.Helper()
	if form.currency == "" {
		form.currency = "USD"
	}
	if form.contentType == "" {
		form.contentType = "image/png"
	}
	if form.artifact == nil {
		form.artifact = []byte("fake-receipt-bytes")
	}

	buf := new(bytes.Buffer)
	mw := multipart.NewWriter(buf)
	fields := map[string]string{
		"order_id":      form.orderID,
		"buyer_subject": form.subject,
		"otp_code":      form.code,
		"currency":      form.currency,
		"amount":        form.amount,
		"order_amount":  form.orderAmount,
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="receipt"; filename="receipt"`)
	hdr.Set("Content-Type", form.contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create artifact part: %v", err)
	}
	if _, err := part.Write(form.artifact); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, e.baseURL+"/api/v1/receipts", buf)
	if err != nil {
		t.Fatalf("build submit request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("submit receipt: %v", err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	return resp, env
}

// openEscalationFor looks up the open escalation row for a submission. The
// API deliberately does not enumerate escalations, so tests go to the table.
func (e *pipelineEnv) openEscalationFor(t *testing.T, submissionID string) *domain.EscalationRequest {
	t.Helper()
	var req domain.EscalationRequest
	err := e.db.First(&req, "submission_id = ? AND resolved_at IS NULL", submissionID).Error
	if err != nil {
		t.Fatalf("find open escalation for %s: %v", submissionID, err)
	}
	return &req
}

func decodeData[T any](t *testing.T, env apiEnvelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data: %v (raw %s)", err, env.Data)
	}
	return out
}
