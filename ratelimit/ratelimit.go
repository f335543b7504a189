package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nimbushost/nimbus/auth"
	resp "github.com/nimbushost/nimbus/response"

	"github.com/go-redis/redis/v7"
	"go.uber.org/zap"
)

// Options provides initialization parameters for Limiter
type Options struct {
	Redis  redis.UniversalClient
	Logger *zap.Logger

	// Prefix namespaces the counter keys in redis
	Prefix string
	// Limit is the number of requests allowed per Window
	Limit  int
	Window time.Duration
}

// Limiter is a fixed-window request limiter backed by redis. Counters are
// per-user when claims are present, per-IP otherwise. Redis being unreachable
// fails open: throttling is protection, not a correctness requirement.
type Limiter struct {
	Options
}

// New returns a Limiter
func New(option Options) (*Limiter, error) {
	if option.Redis == nil {
		return nil, fmt.Errorf("nil Redis is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Prefix == "" {
		option.Prefix = "ratelimit"
	}
	if option.Limit <= 0 {
		option.Limit = 60
	}
	if option.Window <= 0 {
		option.Window = time.Minute
	}
	return &Limiter{
		Options: option,
	}, nil
}

// Key derives the counter key for a request
func (l *Limiter) Key(r *http.Request) string {
	if claims, ok := r.Context().Value(auth.Context).(*auth.Claims); ok && claims.ID != "" {
		return fmt.Sprintf("%s:user:%s", l.Prefix, claims.ID)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return fmt.Sprintf("%s:ip:%s", l.Prefix, host)
}

// Allow increments the window counter and reports whether the request is
// within the limit
func (l *Limiter) Allow(key string) bool {
	counter, err := l.Redis.Incr(key).Result()
	if err != nil {
		l.Logger.Error("Unable to increment rate counter",
			zap.String("Key", key),
			zap.Error(err),
		)
		return true
	}
	if counter == 1 {
		if err := l.Redis.Expire(key, l.Window).Err(); err != nil {
			l.Logger.Error("Unable to set rate counter expiry",
				zap.String("Key", key),
				zap.Error(err),
			)
		}
	}
	return counter <= int64(l.Limit)
}

// Middleware returns a http middleware enforcing the limit
func (l *Limiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(l.Key(r)) {
				resp.WriteError(w, r, resp.ErrTooManyRequests())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
