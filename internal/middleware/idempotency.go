package middleware

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

type cachedResponse struct {
	status      int
	contentType string
	body        []byte
}

type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w responseWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency replays the stored response of a request repeated with the
// same Idempotency-Key by the same actor. Responses that depend on transient
// state (server errors, 408, 409 and 429) are not stored, so the attempt can
// be retried once the conflict clears.
type Idempotency struct {
	responses *cache.Cache
}

func NewIdempotency(ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Idempotency{responses: cache.New(ttl, ttl/2)}
}

func (m *Idempotency) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		actorID := ""
		if actor, ok := ActorFrom(c); ok {
			actorID = actor.ID.String()
		}
		cacheKey := actorID + "|" + c.Request.Method + " " + c.Request.URL.Path + "|" + key

		if v, ok := m.responses.Get(cacheKey); ok {
			resp := v.(cachedResponse)
			c.Header(HeaderReplayed, "true")
			c.Data(resp.status, resp.contentType, resp.body)
			c.Abort()
			return
		}

		w := &responseWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = w
		c.Next()

		if status := w.Status(); storable(status) {
			m.responses.SetDefault(cacheKey, cachedResponse{
				status:      status,
				contentType: w.Header().Get("Content-Type"),
				body:        w.body.Bytes(),
			})
		}
	}
}

func storable(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return false
	}
	return status < http.StatusInternalServerError
}
