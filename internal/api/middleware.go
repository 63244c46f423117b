package api

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/alfassa/alfaai-gateway/internal/auth"
)

const (
	maxBodyBytes   = 25 << 20
	maxMemoryBytes = 10 << 20

	nonceField      = "nonce"
	nonceHeader     = "X-Alfaai-Nonce"
	userTokenHeader = "X-Alfaai-User-Token"

	visitorTTL     = 10 * time.Minute
	pruneThreshold = 1024
)

type ctxKey int

const (
	paramsKey ctxKey = iota
	userKey
)

// params holds the fields of a form or JSON request body.
type params map[string]string

func (p params) get(key string) string { return strings.TrimSpace(p[key]) }

func (p params) int64(key string) int64 {
	n, err := strconv.ParseInt(p.get(key), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (p params) bool(key string) bool {
	switch strings.ToLower(p.get(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func paramsFrom(r *http.Request) params {
	if p, ok := r.Context().Value(paramsKey).(params); ok {
		return p
	}
	return params{}
}

func userFrom(r *http.Request) string {
	user, _ := r.Context().Value(userKey).(string)
	return user
}

// ParseParams reads form, multipart or JSON bodies of POST requests into one
// flat field map. Query parameters are included for every method.
func ParseParams(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := params{}
		for k, v := range r.URL.Query() {
			if len(v) > 0 {
				p[k] = v[0]
			}
		}

		if r.Method == http.MethodPost && r.Body != nil && r.Body != http.NoBody {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			if err := readBody(r, p); err != nil {
				writeError(w, http.StatusBadRequest, "Richiesta non valida: "+err.Error())
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), paramsKey, p)))
	})
}

func readBody(r *http.Request, p params) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
		for k, v := range body {
			p[k] = stringify(v)
		}
		return nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMemoryBytes); err != nil {
			return err
		}
	default:
		if err := r.ParseForm(); err != nil {
			return err
		}
	}
	for k, v := range r.PostForm {
		if len(v) > 0 {
			p[k] = v[0]
		}
	}
	return nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		raw, _ := json.Marshal(t)
		return string(raw)
	}
}

func nonceOf(r *http.Request) string {
	if v := paramsFrom(r).get(nonceField); v != "" {
		return v
	}
	return strings.TrimSpace(r.Header.Get(nonceHeader))
}

// RequireNonce rejects requests without a valid anti-forgery token and puts
// the token subject in the request context.
func (h *APIHandler) RequireNonce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := auth.ValidateNonce(h.opts.NonceSecret, nonceOf(r))
		if err != nil {
			h.logger.Debug("Rejected request nonce", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusForbidden, auth.ErrInvalidNonce.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewRateLimiter allows points requests per window for each client.
func NewRateLimiter(points int, window time.Duration) *RateLimiter {
	if points <= 0 {
		points = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(window / time.Duration(points)),
		burst:    points,
		now:      time.Now,
	}
}

func (l *RateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.visitors) > pruneThreshold {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(l.visitors, k)
			}
		}
	}
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "Troppe richieste. Riprova più tardi.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
