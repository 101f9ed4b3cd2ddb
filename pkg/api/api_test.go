/* Copyright 2025 Venuecrm Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/venuecrm/venuecrm/pkg/assert"
	"github.com/venuecrm/venuecrm/pkg/log"
	"github.com/venuecrm/venuecrm/pkg/store"
	"github.com/venuecrm/venuecrm/pkg/testutils"
	"gorm.io/gorm"
)

func setupRouter(t *testing.T, opts Options) (http.Handler, *gorm.DB) {
	db := testutils.InitMemoryDB(t)

	c, err := store.New(db, store.Options{})
	if err != nil {
		t.Fatal(errors.Wrap(err, "creating client"))
	}

	h, err := NewRouter(c, opts)
	if err != nil {
		t.Fatal(errors.Wrap(err, "creating router"))
	}

	return h, db
}

func doRequest(t *testing.T, h http.Handler, method, target, body string, header http.Header) (*http.Response, string) {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range header {
		req.Header[k] = v
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	res := w.Result()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(errors.Wrap(err, "reading body"))
	}

	return res, strings.TrimSpace(string(b))
}

func countSources(t *testing.T, db *gorm.DB) int64 {
	var n int64
	if err := db.Table("sources").Count(&n).Error; err != nil {
		t.Fatal(errors.Wrap(err, "counting sources"))
	}
	return n
}

func TestHealth(t *testing.T) {
	h, _ := setupRouter(t, Options{})

	res, body := doRequest(t, h, "GET", "/health", "", nil)

	assert.Equal(t, res.StatusCode, http.StatusOK, "status mismatch")
	assert.Equal(t, body, "ok", "body mismatch")
	assert.NotEqual(t, res.Header.Get("X-Request-ID"), "", "request id missing")
}

func TestOperation(t *testing.T) {
	h, db := setupRouter(t, Options{})

	t.Run("create", func(t *testing.T) {
		res, body := doRequest(t, h, "POST", "/v1/Sources/create", `{"data": {"name": "Instagram"}, "select": {"name": true}}`, nil)

		assert.Equal(t, res.StatusCode, http.StatusOK, "status mismatch")
		assert.Equal(t, body, `{"name":"Instagram"}`, "body mismatch")
		assert.Equal(t, res.Header.Get("Content-Type"), "application/json", "content type mismatch")
	})

	t.Run("count", func(t *testing.T) {
		res, body := doRequest(t, h, "POST", "/v1/Sources/count", "", nil)

		assert.Equal(t, res.StatusCode, http.StatusOK, "status mismatch")
		assert.Equal(t, body, "1", "body mismatch")
	})

	t.Run("findUnique missing", func(t *testing.T) {
		res, body := doRequest(t, h, "POST", "/v1/Sources/findUnique", `{"where": {"id": 99}}`, nil)

		assert.Equal(t, res.StatusCode, http.StatusOK, "status mismatch")
		assert.Equal(t, body, "null", "body mismatch")
	})

	testCases := []struct {
		name       string
		target     string
		body       string
		statusCode int
		kind       string
	}{
		{
			name:       "duplicate",
			target:     "/v1/Sources/create",
			body:       `{"data": {"name": "Instagram"}}`,
			statusCode: http.StatusConflict,
			kind:       `"kind":"ConstraintViolation"`,
		},
		{
			name:       "findUniqueOrThrow missing",
			target:     "/v1/Sources/findUniqueOrThrow",
			body:       `{"where": {"id": 99}}`,
			statusCode: http.StatusNotFound,
			kind:       `"kind":"NotFoundError"`,
		},
		{
			name:       "unknown model",
			target:     "/v1/Venue/findMany",
			body:       `{}`,
			statusCode: http.StatusBadRequest,
			kind:       `"kind":"ValidationError"`,
		},
		{
			name:       "unknown action",
			target:     "/v1/Sources/truncate",
			body:       `{}`,
			statusCode: http.StatusBadRequest,
			kind:       `"kind":"ValidationError"`,
		},
		{
			name:       "malformed body",
			target:     "/v1/Sources/findMany",
			body:       `{"where":`,
			statusCode: http.StatusBadRequest,
			kind:       `"kind":"ValidationError"`,
		},
		{
			name:       "trailing value",
			target:     "/v1/Sources/findMany",
			body:       `{} {}`,
			statusCode: http.StatusBadRequest,
			kind:       `"kind":"ValidationError"`,
		},
		{
			name:       "unknown argument",
			target:     "/v1/Sources/findMany",
			body:       `{"limitTo": 3}`,
			statusCode: http.StatusBadRequest,
			kind:       `"kind":"ValidationError"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, body := doRequest(t, h, "POST", tc.target, tc.body, nil)

			assert.Equal(t, res.StatusCode, tc.statusCode, "status mismatch")
			assert.Equal(t, strings.Contains(body, tc.kind), true, "kind missing from "+body)
		})
	}

	assert.Equal(t, countSources(t, db), int64(1), "source count mismatch")
}

func TestList(t *testing.T) {
	h, db := setupRouter(t, Options{})
	testutils.SetupSource(t, db, "Walk-in")
	testutils.SetupSource(t, db, "Instagram")
	testutils.SetupSource(t, db, "Referral")

	testCases := []struct {
		name       string
		query      url.Values
		statusCode int
		expected   string
	}{
		{
			name: "ordered with select",
			query: url.Values{
				"orderBy": []string{`{"name": "asc"}`},
				"select":  []string{"name"},
			},
			statusCode: http.StatusOK,
			expected:   `[{"name":"Instagram"},{"name":"Referral"},{"name":"Walk-in"}]`,
		},
		{
			name: "filtered window",
			query: url.Values{
				"where":   []string{`{"name": {"contains": "a"}}`},
				"orderBy": []string{`{"name": "desc"}`},
				"take":    []string{"1"},
				"select":  []string{"id", "name"},
			},
			statusCode: http.StatusOK,
			expected:   `[{"id":1,"name":"Walk-in"}]`,
		},
		{
			name: "skip",
			query: url.Values{
				"orderBy": []string{`{"id": "asc"}`},
				"skip":    []string{"2"},
				"select":  []string{"id"},
			},
			statusCode: http.StatusOK,
			expected:   `[{"id":3}]`,
		},
		{
			name:       "invalid json",
			query:      url.Values{"where": []string{`{name}`}},
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "invalid take",
			query:      url.Values{"take": []string{"two"}},
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "unknown parameter",
			query:      url.Values{"limit": []string{"2"}},
			statusCode: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, body := doRequest(t, h, "GET", "/v1/Sources?"+tc.query.Encode(), "", nil)

			assert.Equal(t, res.StatusCode, tc.statusCode, "status mismatch")
			if tc.expected != "" {
				assert.Equal(t, body, tc.expected, "body mismatch")
			}
		})
	}
}

func TestTransaction(t *testing.T) {
	h, db := setupRouter(t, Options{})

	t.Run("commit", func(t *testing.T) {
		body := `{"operations": [
			{"model": "Sources", "action": "create", "args": {"data": {"name": "Instagram"}, "select": {"id": true}}},
			{"model": "Sources", "action": "create", "args": {"data": {"name": "Walk-in"}, "select": {"id": true}}},
			{"model": "Sources", "action": "count"}
		]}`

		res, got := doRequest(t, h, "POST", "/v1/transaction", body, nil)

		assert.Equal(t, res.StatusCode, http.StatusOK, "status mismatch")
		assert.Equal(t, got, `[{"id":1},{"id":2},2]`, "body mismatch")
	})

	t.Run("rollback", func(t *testing.T) {
		body := `{"operations": [
			{"model": "Sources", "action": "create", "args": {"data": {"name": "Referral"}}},
			{"model": "Sources", "action": "create", "args": {"data": {"name": "Instagram"}}}
		]}`

		res, got := doRequest(t, h, "POST", "/v1/transaction", body, nil)

		assert.Equal(t, res.StatusCode, http.StatusConflict, "status mismatch")
		assert.Equal(t, strings.Contains(got, "operation 1 (Sources.create)"), true, "message mismatch: "+got)
		assert.Equal(t, countSources(t, db), int64(2), "source count mismatch")
	})

	testCases := []struct {
		name       string
		body       string
		statusCode int
	}{
		{
			name:       "unsupported isolation",
			body:       `{"operations": [], "isolationLevel": "ReadCommitted"}`,
			statusCode: http.StatusNotImplemented,
		},
		{
			name:       "invalid operation",
			body:       `{"operations": [{"model": "Sources", "action": "create", "args": {"data": {"colour": "red"}}}]}`,
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			body:       `{"ops": []}`,
			statusCode: http.StatusBadRequest,
		},
		{
			name:       "negative timeout",
			body:       `{"operations": [], "timeout": -1}`,
			statusCode: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, _ := doRequest(t, h, "POST", "/v1/transaction", tc.body, nil)

			assert.Equal(t, res.StatusCode, tc.statusCode, "status mismatch")
		})
	}
}

func signToken(t *testing.T, secret string, method jwt.SigningMethod, exp time.Time) string {
	token := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})

	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(errors.Wrap(err, "signing token"))
	}
	return s
}

func TestAuth(t *testing.T) {
	secret := "s3cret"
	h, _ := setupRouter(t, Options{JWTSecret: secret})

	valid := signToken(t, secret, jwt.SigningMethodHS256, time.Now().Add(time.Hour))
	expired := signToken(t, secret, jwt.SigningMethodHS256, time.Now().Add(-time.Hour))
	foreign := signToken(t, "other", jwt.SigningMethodHS256, time.Now().Add(time.Hour))
	hs512 := signToken(t, secret, jwt.SigningMethodHS512, time.Now().Add(time.Hour))

	testCases := []struct {
		name       string
		header     string
		statusCode int
	}{
		{name: "missing", header: "", statusCode: http.StatusUnauthorized},
		{name: "malformed", header: "Token " + valid, statusCode: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + expired, statusCode: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + foreign, statusCode: http.StatusUnauthorized},
		{name: "wrong method", header: "Bearer " + hs512, statusCode: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + valid, statusCode: http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			header := http.Header{}
			if tc.header != "" {
				header.Set("Authorization", tc.header)
			}

			res, _ := doRequest(t, h, "GET", "/v1/Sources", "", header)

			assert.Equal(t, res.StatusCode, tc.statusCode, "status mismatch")
		})
	}

	t.Run("health is public", func(t *testing.T) {
		res, _ := doRequest(t, h, "GET", "/health", "", nil)

		assert.Equal(t, res.StatusCode, http.StatusOK, "status mismatch")
	})
}

func TestAuth_subject(t *testing.T) {
	secret := []byte("s3cret")
	var got string
	handler := Auth(secret, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = Subject(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, string(secret), jwt.SigningMethodHS256, time.Now().Add(time.Hour)))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, got, "1", "subject mismatch")
}

func TestTransaction_subject(t *testing.T) {
	secret := "s3cret"
	h, _ := setupRouter(t, Options{JWTSecret: secret})

	var buf bytes.Buffer
	prev := log.SetOutput(&buf)
	defer log.SetOutput(prev)
	level := log.GetLevel()
	log.SetLevel(log.LevelInfo)
	defer log.SetLevel(level)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+signToken(t, secret, jwt.SigningMethodHS256, time.Now().Add(time.Hour)))
	header.Set("X-Request-ID", "req-1")
	body := `{"operations": [{"model": "Sources", "action": "create", "args": {"data": {"name": "Instagram"}}}]}`

	res, _ := doRequest(t, h, "POST", "/v1/transaction", body, header)

	assert.Equal(t, res.StatusCode, http.StatusOK, "status mismatch")
	out := buf.String()
	assert.Equal(t, strings.Contains(out, `"subject":"1"`), true, "subject should be logged: "+out)
	assert.Equal(t, strings.Contains(out, `"request_id":"req-1"`), true, "request id should be logged: "+out)
}

func TestLimit(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	send := func(h http.Handler, addr, forwardedFor string) int {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = addr
		if forwardedFor != "" {
			req.Header.Set("X-Forwarded-For", forwardedFor)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	t.Run("peer address", func(t *testing.T) {
		limiter := NewRateLimiter(1, 2, false)
		defer limiter.Close()
		middleware := limiter.Limit(handler)

		assert.Equal(t, send(middleware, "192.168.1.1:1234", ""), http.StatusOK, "first request")
		assert.Equal(t, send(middleware, "192.168.1.1:1235", ""), http.StatusOK, "second request")
		assert.Equal(t, send(middleware, "192.168.1.1:1236", ""), http.StatusTooManyRequests, "third request")
		assert.Equal(t, send(middleware, "192.168.1.2:5678", ""), http.StatusOK, "request from a different IP")
	})

	t.Run("rotating forwarded header", func(t *testing.T) {
		limiter := NewRateLimiter(1, 2, false)
		defer limiter.Close()
		middleware := limiter.Limit(handler)

		assert.Equal(t, send(middleware, "192.168.1.1:1234", "10.0.0.1"), http.StatusOK, "first request")
		assert.Equal(t, send(middleware, "192.168.1.1:1234", "10.0.0.2"), http.StatusOK, "second request")
		assert.Equal(t, send(middleware, "192.168.1.1:1234", "10.0.0.3"), http.StatusTooManyRequests, "header should not reset the limit")
	})

	t.Run("trusted proxy", func(t *testing.T) {
		limiter := NewRateLimiter(1, 2, true)
		defer limiter.Close()
		middleware := limiter.Limit(handler)

		assert.Equal(t, send(middleware, "127.0.0.1:80", "10.0.0.1"), http.StatusOK, "first request")
		assert.Equal(t, send(middleware, "127.0.0.1:80", "10.0.0.1"), http.StatusOK, "second request")
		assert.Equal(t, send(middleware, "127.0.0.1:80", "10.0.0.1"), http.StatusTooManyRequests, "third request")
		assert.Equal(t, send(middleware, "127.0.0.1:80", "10.0.0.2"), http.StatusOK, "request from a different client")
	})
}

func TestLookupIP(t *testing.T) {
	testCases := []struct {
		name         string
		trustProxy   bool
		forwardedFor string
		realIP       string
		remoteAddr   string
		expected     string
	}{
		{name: "forwarded for", trustProxy: true, forwardedFor: "10.0.0.1, 10.0.0.2", remoteAddr: "127.0.0.1:80", expected: "10.0.0.1"},
		{name: "real ip", trustProxy: true, realIP: "10.0.0.3", remoteAddr: "127.0.0.1:80", expected: "10.0.0.3"},
		{name: "trusted without headers", trustProxy: true, remoteAddr: "192.168.1.1:1234", expected: "192.168.1.1"},
		{name: "untrusted forwarded for", forwardedFor: "10.0.0.1", remoteAddr: "127.0.0.1:80", expected: "127.0.0.1"},
		{name: "untrusted real ip", realIP: "10.0.0.3", remoteAddr: "127.0.0.1:80", expected: "127.0.0.1"},
		{name: "ipv6", remoteAddr: "[::1]:8080", expected: "::1"},
		{name: "no port", remoteAddr: "192.168.1.1", expected: "192.168.1.1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tc.forwardedFor)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}

			assert.Equal(t, lookupIP(req, tc.trustProxy), tc.expected, "ip mismatch")
		})
	}
}

func TestStatusOf(t *testing.T) {
	testCases := []struct {
		kind     store.Kind
		expected int
	}{
		{store.KindValidation, http.StatusBadRequest},
		{store.KindNotFound, http.StatusNotFound},
		{store.KindConstraint, http.StatusConflict},
		{store.KindTimeout, http.StatusGatewayTimeout},
		{store.KindUnsupported, http.StatusNotImplemented},
		{store.KindConnection, http.StatusServiceUnavailable},
		{store.KindCanceled, http.StatusRequestTimeout},
		{store.KindBackend, http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, statusOf(tc.kind), tc.expected, "status mismatch")
		})
	}
}

func TestNewRouter_invalidOptions(t *testing.T) {
	_, err := NewRouter(nil, Options{})
	assert.Equal(t, err, ErrEmptyClient, "error mismatch")
}
