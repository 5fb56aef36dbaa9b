package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/pkg/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	tokens := auth.NewJWTService("test-secret", "consult")
	actor := model.Actor{Role: model.RoleDoctor, ID: uuid.New()}
	token, err := tokens.Issue(actor, time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.Use(NewAuthMiddleware(tokens).Authenticate())
	r.GET("/me", func(c *gin.Context) {
		got, ok := ActorFrom(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"id": got.ID, "role": got.Role})
	})

	t.Run("valid token", func(t *testing.T) {
		w := serve(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer " + token})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), actor.ID.String())
	})

	t.Run("missing header", func(t *testing.T) {
		w := serve(r, http.MethodGet, "/me", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		w := serve(r, http.MethodGet, "/me", map[string]string{"Authorization": "Basic " + token})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("tampered token", func(t *testing.T) {
		w := serve(r, http.MethodGet, "/me", map[string]string{"Authorization": "Bearer " + token + "x"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextRequestID)) })

	given := uuid.New().String()
	w := serve(r, http.MethodGet, "/", map[string]string{HeaderXRequestID: given})
	assert.Equal(t, given, w.Header().Get(HeaderXRequestID))
	assert.Equal(t, given, w.Body.String())

	w = serve(r, http.MethodGet, "/", map[string]string{HeaderXRequestID: "<script>"})
	_, err := uuid.Parse(w.Header().Get(HeaderXRequestID))
	assert.NoError(t, err)
}

func TestIdempotency_ReplaysPerActorAndKey(t *testing.T) {
	var calls int32
	alice := model.Actor{Role: model.RolePatient, ID: uuid.New()}
	bob := model.Actor{Role: model.RolePatient, ID: uuid.New()}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-Actor") == "bob" {
			c.Set(ContextActor, bob)
		} else {
			c.Set(ContextActor, alice)
		}
	})
	r.Use(NewIdempotency(time.Minute).Handle())
	r.POST("/pay", func(c *gin.Context) {
		n := atomic.AddInt32(&calls, 1)
		c.JSON(http.StatusOK, gin.H{"call": n})
	})

	first := serve(r, http.MethodPost, "/pay", map[string]string{HeaderIdempotencyKey: "k1"})
	second := serve(r, http.MethodPost, "/pay", map[string]string{HeaderIdempotencyKey: "k1"})
	other := serve(r, http.MethodPost, "/pay", map[string]string{HeaderIdempotencyKey: "k1", "X-Actor": "bob"})
	noKey := serve(r, http.MethodPost, "/pay", nil)

	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(HeaderReplayed))
	assert.Empty(t, first.Header().Get(HeaderReplayed))
	assert.NotEqual(t, first.Body.String(), other.Body.String())
	assert.NotEqual(t, first.Body.String(), noKey.Body.String())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestIdempotency_ServerErrorsAreNotStored(t *testing.T) {
	var calls int32
	r := gin.New()
	r.Use(NewIdempotency(time.Minute).Handle())
	r.POST("/pay", func(c *gin.Context) {
		if atomic.AddInt32(&calls, 1) == 1 {
			c.JSON(http.StatusGatewayTimeout, gin.H{"status": "error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	})

	first := serve(r, http.MethodPost, "/pay", map[string]string{HeaderIdempotencyKey: "k"})
	second := serve(r, http.MethodPost, "/pay", map[string]string{HeaderIdempotencyKey: "k"})

	assert.Equal(t, http.StatusGatewayTimeout, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestIdempotency_ConflictsAreNotStored(t *testing.T) {
	var calls int32
	r := gin.New()
	r.Use(NewIdempotency(time.Minute).Handle())
	r.POST("/pay", func(c *gin.Context) {
		if atomic.AddInt32(&calls, 1) == 1 {
			c.JSON(http.StatusConflict, gin.H{"status": "error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	})

	first := serve(r, http.MethodPost, "/pay", map[string]string{HeaderIdempotencyKey: "k"})
	second := serve(r, http.MethodPost, "/pay", map[string]string{HeaderIdempotencyKey: "k"})
	third := serve(r, http.MethodPost, "/pay", map[string]string{HeaderIdempotencyKey: "k"})

	assert.Equal(t, http.StatusConflict, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Empty(t, second.Header().Get(HeaderReplayed))
	assert.Equal(t, http.StatusOK, third.Code)
	assert.Equal(t, "true", third.Header().Get(HeaderReplayed))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestStorable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusOK, true},
		{http.StatusCreated, true},
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusUnprocessableEntity, true},
		{http.StatusRequestTimeout, false},
		{http.StatusConflict, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusGatewayTimeout, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, storable(tt.status), "status %d", tt.status)
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: rate.Every(time.Hour), Burst: 1})
	r := gin.New()
	r.Use(rl.RateLimit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := func(ip string) int {
		rq := httptest.NewRequest(http.MethodGet, "/", nil)
		rq.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, rq)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, req("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, req("10.0.0.1"))
	assert.Equal(t, http.StatusOK, req("10.0.0.2"))
}

func TestSizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(SizeLimit(8))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"far too long"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestTimeout_SetsDeadline(t *testing.T) {
	r := gin.New()
	r.Use(Timeout(time.Second))
	r.GET("/", func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		assert.True(t, ok)
		c.Status(http.StatusOK)
	})

	w := serve(r, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
