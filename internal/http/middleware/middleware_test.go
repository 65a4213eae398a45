package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/apparel-admin/internal/ratelimit"
	"github.com/pribylovaa/apparel-admin/internal/service"
)

// capHandler — тестовый slog.Handler, который:
//   - аккумулирует базовые attrs, приходящие через Logger.With(...);
//   - собирает attrs из каждой записи в map[string]any;
//   - не создаёт реальных I/O.
type capHandler struct {
	base    []slog.Attr
	lastMsg string
	lastLvl slog.Level
	attrs   map[string]any
	count   int
}

func (h *capHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capHandler) Handle(_ context.Context, r slog.Record) error {
	out := make(map[string]any, len(h.base)+8)
	for _, a := range h.base {
		out[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})

	h.count++
	h.lastMsg = r.Message
	h.lastLvl = r.Level
	h.attrs = out
	return nil
}

func (h *capHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) > 0 {
		h.base = append(h.base, attrs...)
	}
	return h
}

func (h *capHandler) WithGroup(string) slog.Handler { return h }

func makeReq(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = (&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345}).String()
	return req
}

type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type errEnvelope struct {
	Error apiError `json:"error"`
}

func decodeErr(t *testing.T, rr *httptest.ResponseRecorder) errEnvelope {
	t.Helper()
	var env errEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env
}

func TestChain_Order(t *testing.T) {
	order := []string{}
	m1 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m1-begin")
			next.ServeHTTP(w, r)
			order = append(order, "m1-end")
		})
	}
	m2 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m2-begin")
			next.ServeHTTP(w, r)
			order = append(order, "m2-end")
		})
	}
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusTeapot)
	})

	chain := Chain(final, m1, m2)
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, makeReq("/chain"))

	require.Equal(t, []string{"m1-begin", "m2-begin", "handler", "m2-end", "m1-end"}, order)
	require.Equal(t, http.StatusTeapot, rr.Code)
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	var seenID, seenCtxID string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = r.Header.Get("X-Request-Id")
		seenCtxID = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	Chain(h, RequestID()).ServeHTTP(rr, makeReq("/rid"))

	respID := rr.Header().Get("X-Request-Id")
	require.Len(t, respID, 32)
	require.Equal(t, respID, seenID)
	require.Equal(t, respID, seenCtxID)
}

func TestRequestID_UseExisting(t *testing.T) {
	const given = "abc123-existing-id"

	var seenCtxID string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCtxID = RequestIDFrom(r.Context())
	})

	rr := httptest.NewRecorder()
	req := makeReq("/rid2")
	req.Header.Set("X-Request-Id", given)
	Chain(h, RequestID()).ServeHTTP(rr, req)

	require.Equal(t, given, rr.Header().Get("X-Request-Id"))
	require.Equal(t, given, seenCtxID)
}

func TestTimeout_SetsDeadline_WhenAbsent(t *testing.T) {
	var hasDeadline bool
	var left time.Duration
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dl, ok := r.Context().Deadline()
		hasDeadline = ok
		if ok {
			left = time.Until(dl)
		}
	})

	Chain(h, Timeout(50*time.Millisecond)).ServeHTTP(httptest.NewRecorder(), makeReq("/timeout"))

	require.True(t, hasDeadline)
	require.Greater(t, left, time.Duration(0))
}

func TestTimeout_DoesNotOverrideExistingDeadline(t *testing.T) {
	var childDL time.Time
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		childDL, _ = r.Context().Deadline()
	})

	parent, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	req := makeReq("/timeout2").WithContext(parent)
	Chain(h, Timeout(time.Second)).ServeHTTP(httptest.NewRecorder(), req)

	parentDL, _ := parent.Deadline()
	require.WithinDuration(t, parentDL, childDL, time.Millisecond)
}

func TestRecover_ConvertsPanicTo500(t *testing.T) {
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rr := httptest.NewRecorder()
	Chain(panicHandler, Recover()).ServeHTTP(rr, makeReq("/panic"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	env := decodeErr(t, rr)
	require.Equal(t, "internal", env.Error.Code)
	require.NotEmpty(t, env.Error.Message)
}

func TestTimeout_SkipsEventStream(t *testing.T) {
	var hasDeadline bool
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	})

	req := makeReq("/api/scan/stream")
	req.Header.Set("Accept", "text/event-stream")
	Chain(h, Timeout(time.Second)).ServeHTTP(httptest.NewRecorder(), req)

	require.False(t, hasDeadline)
}

func TestRecover_LogsStackWithRequestID(t *testing.T) {
	h := &capHandler{}
	prev := slog.Default()
	slog.SetDefault(slog.New(h))
	t.Cleanup(func() { slog.SetDefault(prev) })

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	req := makeReq("/panic")
	req.Header.Set("X-Request-Id", "rid-9")
	rr := httptest.NewRecorder()
	Chain(panicHandler, Recover(), RequestID()).ServeHTTP(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "rid-9", decodeErr(t, rr).Error.RequestID)
	require.Equal(t, "panic", h.lastMsg)
	require.Equal(t, slog.LevelError, h.lastLvl)
	require.Equal(t, "rid-9", h.attrs["request_id"])
	require.Contains(t, h.attrs["stack"], "runtime/debug.Stack")
}

// Паника после начала ответа не дописывает JSON-ошибку в чужое тело.
func TestRecover_AbortsStartedResponse(t *testing.T) {
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {}\n\n"))
		panic("stream broke")
	})

	rr := httptest.NewRecorder()
	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		Chain(panicHandler, Recover()).ServeHTTP(rr, makeReq("/api/scan/stream"))
	})
	require.Equal(t, "data: {}\n\n", rr.Body.String())
}

func TestLogging_LevelAndRouteFromStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   slog.Level
	}{
		{name: "ok", status: http.StatusOK, want: slog.LevelInfo},
		{name: "client error", status: http.StatusNotFound, want: slog.LevelWarn},
		{name: "server error", status: http.StatusServiceUnavailable, want: slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &capHandler{}

			r := chi.NewRouter()
			r.Use(Logging(slog.New(h)))
			r.Get("/api/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})

			r.ServeHTTP(httptest.NewRecorder(), makeReq("/api/items/42"))

			require.Equal(t, tt.want, h.lastLvl)
			require.Equal(t, "/api/items/{id}", h.attrs["route"])
			require.EqualValues(t, tt.status, h.attrs["status"])
		})
	}
}

func TestLogging_WritesRecord_WithStatusDurBytesAndRequestID(t *testing.T) {
	h := &capHandler{}
	logger := slog.New(h)

	const rid = "rid-456"
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	})

	handler := Chain(final, RequestID(), Logging(logger))

	rr := httptest.NewRecorder()
	req := makeReq("/log")
	req.Header.Set("X-Request-Id", rid)
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, h.count)
	require.Equal(t, "http", h.lastMsg)

	method, _ := h.attrs["method"].(string)
	path, _ := h.attrs["path"].(string)
	status, _ := h.attrs["status"].(int64)
	bytes, _ := h.attrs["bytes"].(int64)
	ridAttr, _ := h.attrs["request_id"].(string)

	require.Equal(t, http.MethodGet, method)
	require.Equal(t, "/log", path)
	require.EqualValues(t, http.StatusOK, status)
	require.EqualValues(t, 10, bytes)
	require.Equal(t, rid, ridAttr)

	_, hasDur := h.attrs["dur"]
	require.True(t, hasDur)
}

func TestStatusWriter_CountsBytes_AndDefaultStatus200(t *testing.T) {
	rr := httptest.NewRecorder()
	sw := newStatusWriter(rr)

	_, _ = sw.Write([]byte("abcd"))
	require.Equal(t, http.StatusOK, sw.status)
	require.Equal(t, 4, sw.count)

	// Вложенные мидлвары делят один writer.
	require.Same(t, sw, newStatusWriter(sw))
	require.Equal(t, http.StatusOK, (&statusWriter{}).Status())

	// ResponseController добирается до исходного writer.
	require.NoError(t, http.NewResponseController(sw).Flush())
	require.True(t, rr.Flushed)
}

func signToken(t *testing.T, secret, issuer, subject string, exp time.Time) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestIdentity(t *testing.T) {
	const secret, issuer = "s3cr3t", "idp"

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantActor  string
	}{
		{
			name:       "valid token",
			header:     "Bearer " + signToken(t, secret, issuer, "user-1", time.Now().Add(time.Hour)),
			wantStatus: http.StatusOK,
			wantActor:  "user-1",
		},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "basic scheme", header: "Basic aaa", wantStatus: http.StatusUnauthorized},
		{
			name:       "expired",
			header:     "Bearer " + signToken(t, secret, issuer, "user-1", time.Now().Add(-time.Hour)),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong secret",
			header:     "Bearer " + signToken(t, "other", issuer, "user-1", time.Now().Add(time.Hour)),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong issuer",
			header:     "Bearer " + signToken(t, secret, "evil", "user-1", time.Now().Add(time.Hour)),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "no subject",
			header:     "Bearer " + signToken(t, secret, issuer, "", time.Now().Add(time.Hour)),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var actor string
			h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				actor = service.Actor(r.Context())
			})

			req := makeReq("/api/items")
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rr := httptest.NewRecorder()
			Chain(h, Identity(secret, issuer)).ServeHTTP(rr, req)

			require.Equal(t, tt.wantStatus, rr.Code)
			require.Equal(t, tt.wantActor, actor)
			if tt.wantStatus == http.StatusUnauthorized {
				require.Equal(t, "unauthenticated", decodeErr(t, rr).Error.Code)
			}
		})
	}
}

func TestIdentity_DisabledWithoutSecret(t *testing.T) {
	called := false
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		require.Empty(t, service.Actor(r.Context()))
	})

	rr := httptest.NewRecorder()
	Chain(h, Identity("", "")).ServeHTTP(rr, makeReq("/api/items"))

	require.True(t, called)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestTokenFromQuery(t *testing.T) {
	var (
		auth  string
		query string
	)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		query = r.URL.RawQuery
	})
	chain := Chain(h, TokenFromQuery())

	chain.ServeHTTP(httptest.NewRecorder(), makeReq("/api/scan/stream?access_token=abc&x=1"))
	require.Equal(t, "Bearer abc", auth)
	require.Equal(t, "x=1", query)

	// Заголовок приоритетнее query.
	req := makeReq("/api/scan/stream?access_token=abc")
	req.Header.Set("Authorization", "Bearer hdr")
	chain.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "Bearer hdr", auth)
	require.Empty(t, query)

	chain.ServeHTTP(httptest.NewRecorder(), makeReq("/api/scan/stream"))
	require.Empty(t, auth)
}

func TestClientID(t *testing.T) {
	var (
		seen   string
		issued bool
	)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientIDFrom(r.Context())
		issued = clientIssued(r.Context())
	})
	chain := Chain(h, ClientID())

	t.Run("issues cookie", func(t *testing.T) {
		rr := httptest.NewRecorder()
		chain.ServeHTTP(rr, makeReq("/scan"))

		cookies := rr.Result().Cookies()
		require.Len(t, cookies, 1)
		require.Equal(t, ClientCookie, cookies[0].Name)
		require.Equal(t, cookies[0].Value, seen)
		require.True(t, issued)
	})

	t.Run("reuses cookie", func(t *testing.T) {
		req := makeReq("/scan")
		req.AddCookie(&http.Cookie{Name: ClientCookie, Value: "device-1"})

		rr := httptest.NewRecorder()
		chain.ServeHTTP(rr, req)

		require.Equal(t, "device-1", seen)
		require.False(t, issued)
		require.Empty(t, rr.Result().Cookies())
	})

	t.Run("header wins", func(t *testing.T) {
		req := makeReq("/scan")
		req.Header.Set("X-Client-Id", "desk-7")
		req.AddCookie(&http.Cookie{Name: ClientCookie, Value: "device-1"})

		chain.ServeHTTP(httptest.NewRecorder(), req)
		require.Equal(t, "desk-7", seen)
	})
}

func TestRateLimit_PerClient(t *testing.T) {
	limiter := ratelimit.New(1, 2, 0)
	t.Cleanup(limiter.Stop)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	chain := Chain(h, ClientID(), RateLimit(RateLimitOptions{PerClient: limiter}))

	send := func(client string) int {
		req := makeReq("/scan")
		req.Header.Set("X-Client-Id", client)
		rr := httptest.NewRecorder()
		chain.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusOK, send("a"))
	require.Equal(t, http.StatusOK, send("a"))
	require.Equal(t, http.StatusTooManyRequests, send("a"))

	// Другой клиент не затронут.
	require.Equal(t, http.StatusOK, send("b"))
}

// Запросы без cookie получают новый id каждый раз, но учитываются по адресу.
func TestRateLimit_FreshIDsShareAddressBudget(t *testing.T) {
	limiter := ratelimit.New(1, 1, 0)
	t.Cleanup(limiter.Stop)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	chain := Chain(h, ClientID(), RateLimit(RateLimitOptions{PerClient: limiter}))

	limited := 0
	for i := 0; i < 50; i++ {
		rr := httptest.NewRecorder()
		chain.ServeHTTP(rr, makeReq("/api/scan/session"))
		if rr.Code == http.StatusTooManyRequests {
			limited++
		}
	}

	require.Equal(t, 49, limited)
	require.Equal(t, 1, limiter.Len())
}

// Подставной X-Client-Id на каждый запрос упирается в бюджет адреса.
func TestRateLimit_RotatingIDsHitAddressBudget(t *testing.T) {
	perClient := ratelimit.New(1, 1, 0)
	perIP := ratelimit.New(1, 5, 0)
	t.Cleanup(perClient.Stop)
	t.Cleanup(perIP.Stop)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	chain := Chain(h, ClientID(), RateLimit(RateLimitOptions{PerClient: perClient, PerIP: perIP}))

	passed := 0
	for i := 0; i < 50; i++ {
		req := makeReq("/api/scan/session")
		req.Header.Set("X-Client-Id", fmt.Sprintf("fake-%d", i))
		rr := httptest.NewRecorder()
		chain.ServeHTTP(rr, req)
		if rr.Code == http.StatusOK {
			passed++
		}
	}

	require.Equal(t, 5, passed)

	// Другой адрес не затронут.
	req := makeReq("/api/scan/session")
	req.RemoteAddr = "10.1.1.1:4000"
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimit_Disabled(t *testing.T) {
	called := 0
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called++ })
	chain := Chain(h, RateLimit(RateLimitOptions{}))

	for i := 0; i < 3; i++ {
		chain.ServeHTTP(httptest.NewRecorder(), makeReq("/scan"))
	}
	require.Equal(t, 3, called)
}

func TestClientIP(t *testing.T) {
	req := makeReq("/")
	require.Equal(t, "127.0.0.1", clientIP(req, true))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	require.Equal(t, "10.0.0.2", clientIP(req, true))

	// Последний адрес дописан прокси; первые приходят от клиента.
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.9")
	require.Equal(t, "10.0.0.9", clientIP(req, true))

	// Без доверия к прокси заголовки игнорируются.
	require.Equal(t, "127.0.0.1", clientIP(req, false))
}

func TestMetrics_CountsByRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware())
	r.Get("/api/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), makeReq("/api/items/"+id))
	}

	require.Equal(t, 3.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/api/items/{id}", "404")))

	out, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(out))
	for _, mf := range out {
		names = append(names, mf.GetName())
	}
	require.Contains(t, strings.Join(names, ","), "apparel_admin_http_request_duration_seconds")
}
