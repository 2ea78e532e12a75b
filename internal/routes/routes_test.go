package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/accounts/internal/config"
	"github.com/congo-pay/accounts/internal/logging"
	"github.com/congo-pay/accounts/internal/notification"
)

type stubBroker struct{ err error }

func (b stubBroker) Ping() error { return b.err }

func devConfig() config.Config {
	return config.Config{
		AppEnv:                "development",
		StoreTimeout:          time.Second,
		IdempotencyTTL:        time.Minute,
		ProfileCacheTTL:       time.Minute,
		RegistrationRateLimit: 100,
	}
}

func newApp(t *testing.T, d Deps) *fiber.App {
	t.Helper()
	app := fiber.New()
	require.NoError(t, Setup(app, d))
	return app
}

func call(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	decoded := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if json.Valid(raw) {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

const registerBody = `{"first_name":"Ada","last_name":"Lovelace","email":"a@x.com","password":"pw",
"phone_number":"+234800","address":"Lagos","bvn":"22222222222","pin":"1234"}`

func TestSetupRequiresBackendsOutsideDev(t *testing.T) {
	cfg := devConfig()
	cfg.AppEnv = "production"
	err := Setup(fiber.New(), Deps{Cfg: cfg, Logger: logging.Discard()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database")
}

func TestAccountRoutesInMemoryWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	outbox := notification.NewMemoryOutbox()
	app := newApp(t, Deps{Cfg: devConfig(), Cache: client, Broker: stubBroker{}, Outbox: outbox, Logger: logging.Discard()})

	headers := map[string]string{"Idempotency-Key": "reg-1"}
	status, first := call(t, app, http.MethodPost, "/api/v1/accounts", registerBody, headers)
	require.Equal(t, http.StatusCreated, status)
	status, replay := call(t, app, http.MethodPost, "/api/v1/accounts", registerBody, headers)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, first["id"], replay["id"], "replayed response, not a second registration")
	assert.Len(t, outbox.Pending(), 1)

	status, _ = call(t, app, http.MethodPost, "/api/v1/accounts", registerBody, nil)
	assert.Equal(t, http.StatusConflict, status)

	id := int64(first["id"].(float64))
	status, profile := call(t, app, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%d", id), "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, first["account_number"], profile["account_number"])
	assert.True(t, mr.Exists(fmt.Sprintf("account:profile:%d", id)), "profile cached in redis")

	status, _ = call(t, app, http.MethodPatch, fmt.Sprintf("/api/v1/accounts/%d", id), `{"address":"Abuja"}`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, mr.HGet(fmt.Sprintf("account:profile:%d", id), "d"), "Abuja", "patch writes the fresh profile")

	status, profile = call(t, app, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%d", id), "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Abuja", profile["address"])

	status, found := call(t, app, http.MethodGet, "/api/v1/accounts/number/"+first["account_number"].(string), "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, first["id"], found["account"].(map[string]any)["id"])

	status, _ = call(t, app, http.MethodGet, "/api/v1/accounts/number/0000000000", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, app, http.MethodDelete, fmt.Sprintf("/api/v1/accounts/%d", id), "", nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = call(t, app, http.MethodGet, fmt.Sprintf("/api/v1/accounts/%d", id), "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthReportsBackends(t *testing.T) {
	app := newApp(t, Deps{Cfg: devConfig(), Logger: logging.Discard()})
	status, body := call(t, app, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, status)
	backends := body["status"].(map[string]any)
	assert.Equal(t, "disabled", backends["postgres"])
	assert.Equal(t, "disabled", backends["rabbitmq"])

	app = newApp(t, Deps{Cfg: devConfig(), Broker: stubBroker{err: errors.New("rabbitmq connection closed")}, Logger: logging.Discard()})
	status, body = call(t, app, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "rabbitmq connection closed", body["status"].(map[string]any)["rabbitmq"])
}

func TestPing(t *testing.T) {
	app := newApp(t, Deps{Cfg: devConfig(), Logger: logging.Discard()})
	status, body := call(t, app, http.MethodGet, "/api/v1/ping", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["request_id"])
}
