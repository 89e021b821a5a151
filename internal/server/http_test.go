package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/cartsync/internal/core/wire"
)

func do(t *testing.T, ts *httptest.Server, method, path, token, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeCart(t *testing.T, data []byte) wire.CartResponse {
	t.Helper()
	var out wire.CartResponse
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHealth(t *testing.T) {
	_, ts, _ := newTestServer(t, DefaultServerConfig())
	resp, body := do(t, ts, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestCartRESTLifecycle(t *testing.T) {
	_, ts, _ := newTestServer(t, DefaultServerConfig())

	resp, body := do(t, ts, http.MethodGet, "/v1/carts/u1", "tok-u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeCart(t, body).Items)
	assert.Contains(t, string(body), `"items":{}`)

	line := `{"line":{"product":{"id":"1","title":"Backpack","price":"109.95"},"quantity":1}}`
	resp, body = do(t, ts, http.MethodPut, "/v1/carts/u1/items/1", "tok-u1", line)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decodeCart(t, body).Items["1"].Quantity)

	resp, body = do(t, ts, http.MethodPatch, "/v1/carts/u1/items/1", "tok-u1", `{"quantity":3}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, decodeCart(t, body).Items["1"].Quantity)

	resp, body = do(t, ts, http.MethodDelete, "/v1/carts/u1/items/1", "tok-u1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeCart(t, body).Items)

	// Removing again is fine.
	resp, _ = do(t, ts, http.MethodDelete, "/v1/carts/u1/items/1", "tok-u1", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCartRESTErrors(t *testing.T) {
	_, ts, _ := newTestServer(t, DefaultServerConfig())

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		status int
		code   string
	}{
		{"missing token", http.MethodGet, "/v1/carts/u1", "", "", http.StatusUnauthorized, wire.CodeUnauthorized},
		{"bad token", http.MethodGet, "/v1/carts/u1", "nope", "", http.StatusUnauthorized, wire.CodeUnauthorized},
		{"other user", http.MethodGet, "/v1/carts/u2", "tok-u1", "", http.StatusForbidden, wire.CodeForbidden},
		{"update missing line", http.MethodPatch, "/v1/carts/u1/items/9", "tok-u1", `{"quantity":2}`, http.StatusNotFound, wire.CodeNotFound},
		{"zero quantity", http.MethodPatch, "/v1/carts/u1/items/9", "tok-u1", `{"quantity":0}`, http.StatusBadRequest, wire.CodeInvalidRequest},
		{"garbage body", http.MethodPut, "/v1/carts/u1/items/9", "tok-u1", `{`, http.StatusBadRequest, wire.CodeInvalidRequest},
		{"unknown field", http.MethodPatch, "/v1/carts/u1/items/9", "tok-u1", `{"qty":2}`, http.StatusBadRequest, wire.CodeInvalidRequest},
		{"empty line", http.MethodPut, "/v1/carts/u1/items/9", "tok-u1", `{"line":{"quantity":0}}`, http.StatusBadRequest, wire.CodeInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := do(t, ts, tc.method, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			var e wire.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.Equal(t, tc.code, e.Code)
		})
	}
}

func TestAdminTokenReadsAnyCart(t *testing.T) {
	_, ts, _ := newTestServer(t, DefaultServerConfig())
	resp, _ := do(t, ts, http.MethodGet, "/v1/carts/u2", "tok-admin", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEscapedIdentifiers(t *testing.T) {
	_, ts, _ := newTestServer(t, DefaultServerConfig())
	resp, body := do(t, ts, http.MethodPut, "/v1/carts/u1/items/a%2Fb", "tok-u1", `{"line":{"quantity":1}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok := decodeCart(t, body).Items["a/b"]
	assert.True(t, ok)
}
