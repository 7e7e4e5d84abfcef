package server_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shipbridge/courier-gateway/internal/jobs"
	"github.com/shipbridge/courier-gateway/internal/server"
	"github.com/shipbridge/courier-gateway/internal/shipments"
	"github.com/shipbridge/courier-gateway/internal/webhook"
	"github.com/shipbridge/courier-gateway/pkg/courier"
	"github.com/shipbridge/courier-gateway/pkg/courier/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const webhookSecret = "whsec_server_test"

type fixture struct {
	router     http.Handler
	adapter    *mock.Client
	repo       *shipments.MemoryRepository
	dispatcher *jobs.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := otelzap.New(zap.NewNop())

	adapter := mock.New("aramex")
	registry := courier.NewRegistry()
	registry.Register(adapter, true)

	repo := shipments.NewMemoryRepository()
	dispatcher := jobs.NewDispatcher(context.Background(), logger)

	shipmentService := shipments.NewService(registry, repo, dispatcher, rdb,
		shipments.CacheConfig{}, logger, nil)
	shipmentService.RegisterJobs()

	verifier := webhook.NewVerifier(map[string]string{"aramex": webhookSecret},
		rdb, webhook.VerifierConfig{}, logger)
	webhookService := webhook.NewService(verifier, shipmentService, logger)

	srv := server.New(server.Config{Port: 0}, registry, shipmentService, webhookService, logger)
	return &fixture{router: srv.Router(), adapter: adapter, repo: repo, dispatcher: dispatcher}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if raw, ok := body.([]byte); ok {
		reader = bytes.NewReader(raw)
	} else if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func createPayload() map[string]any {
	return map[string]any{
		"courier_code": "aramex",
		"reference":    "ORDER-1001",
		"shipper":      map[string]any{"name": "Warehouse", "city": "Riyadh", "country_code": "SA"},
		"receiver":     map[string]any{"name": "Customer", "city": "Jeddah", "country_code": "SA"},
		"package":      map[string]any{"weight": 1.5},
		"service_type": "standard",
	}
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"aramex":true`)
}

func TestServer_ListCouriers(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/couriers", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"aramex"`)
}

func TestServer_CreateShipment(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/shipments", createPayload(), nil)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var shipment shipments.Shipment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shipment))
	assert.Equal(t, "ORDER-1001", shipment.Reference)
	assert.NotEmpty(t, shipment.WaybillNumber)
}

func TestServer_CreateShipment_MissingFields(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/shipments", map[string]any{"courier_code": "aramex"}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CreateShipment_UnknownCourier(t *testing.T) {
	f := newFixture(t)

	payload := createPayload()
	payload["courier_code"] = "smsa"
	rec := f.do(t, http.MethodPost, "/api/v1/shipments", payload, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), courier.CodeCourierNotFound)
}

func TestServer_CreateShipment_Async(t *testing.T) {
	f := newFixture(t)

	payload := createPayload()
	payload["async"] = true
	rec := f.do(t, http.MethodPost, "/api/v1/shipments", payload, nil)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, f.dispatcher.Wait(context.Background()))

	stored, err := f.repo.FindByReference(context.Background(), "ORDER-1001")
	require.NoError(t, err)
	assert.NotEmpty(t, stored.WaybillNumber)
}

func TestServer_GetShipment(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/shipments", createPayload(), nil)

	rec := f.do(t, http.MethodGet, "/api/v1/shipments/ORDER-1001", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reference":"ORDER-1001"`)
}

func TestServer_GetShipment_NotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/shipments/ORDER-9999", nil, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func createdWaybill(t *testing.T, f *fixture) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/shipments", createPayload(), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var shipment shipments.Shipment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shipment))
	return shipment.WaybillNumber
}

func TestServer_Track(t *testing.T) {
	f := newFixture(t)
	wb := createdWaybill(t, f)

	rec := f.do(t, http.MethodGet, "/api/v1/waybills/"+wb+"/tracking", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"CurrentStatus":"in_transit"`)
}

func TestServer_Track_CourierUnavailable(t *testing.T) {
	f := newFixture(t)
	wb := createdWaybill(t, f)

	f.adapter.FailWith = fmt.Errorf("%w: aramex circuit is open", courier.ErrCourierUnavailable)

	rec := f.do(t, http.MethodGet, "/api/v1/waybills/"+wb+"/tracking?refresh=true", nil, nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), courier.CodeCourierUnavailable)
}

func TestServer_GetLabel(t *testing.T) {
	f := newFixture(t)
	wb := createdWaybill(t, f)

	rec := f.do(t, http.MethodGet, "/api/v1/waybills/"+wb+"/label", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"IsURL":true`)
}

func TestServer_Cancel(t *testing.T) {
	f := newFixture(t)
	wb := createdWaybill(t, f)

	rec := f.do(t, http.MethodPost, "/api/v1/waybills/"+wb+"/cancel", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"Success":true`)
}

func TestServer_Cancel_NotAllowed(t *testing.T) {
	f := newFixture(t)
	wb := createdWaybill(t, f)

	f.adapter.OnTrack = func(ctx context.Context, waybillNumber string) (*courier.TrackingResponse, error) {
		return &courier.TrackingResponse{
			WaybillNumber: waybillNumber,
			CurrentStatus: courier.StatusDelivered,
			Events: []courier.TrackingEvent{
				{Status: courier.StatusDelivered, CourierStatus: "SH008", Timestamp: time.Now()},
			},
		}, nil
	}

	rec := f.do(t, http.MethodPost, "/api/v1/waybills/"+wb+"/cancel", nil, nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), courier.CodeCancellationNotAllowed)
}

func signWebhook(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestServer_Webhook(t *testing.T) {
	f := newFixture(t)
	wb := createdWaybill(t, f)

	body := []byte(fmt.Sprintf(`{"ShipmentNumber":%q,"UpdateCode":"SH004"}`, wb))
	ts := fmt.Sprintf("%d", time.Now().Unix())

	rec := f.do(t, http.MethodPost, "/api/v1/webhooks/aramex", body, map[string]string{
		"X-Webhook-Signature": signWebhook(webhookSecret, ts, body),
		"X-Webhook-Timestamp": ts,
	})

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, f.dispatcher.Wait(context.Background()))
}

func TestServer_Webhook_BadSignature(t *testing.T) {
	f := newFixture(t)
	wb := createdWaybill(t, f)

	body := []byte(fmt.Sprintf(`{"ShipmentNumber":%q}`, wb))
	ts := fmt.Sprintf("%d", time.Now().Unix())

	rec := f.do(t, http.MethodPost, "/api/v1/webhooks/aramex", body, map[string]string{
		"X-Webhook-Signature": signWebhook("wrong-secret", ts, body),
		"X-Webhook-Timestamp": ts,
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), webhook.CodeWebhookAuthError)
}
