package middleware

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/iota-uz/exam-scheduler/pkg/composables"
	"github.com/iota-uz/exam-scheduler/pkg/configuration"
	"github.com/iota-uz/exam-scheduler/pkg/httpapi"
)

type RateLimitConfig struct {
	// Rate is "<requests>-<period>", e.g. "30-M".
	Rate  string
	Store limiter.Store
}

const storePrefix = "exam_scheduler_rate_limit"

func NewMemoryStore() limiter.Store {
	return memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: storePrefix})
}

// NewRedisStore shares the counters between server instances.
func NewRedisStore(url string) (limiter.Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return sredis.NewStoreWithOptions(redis.NewClient(opts), limiter.StoreOptions{Prefix: storePrefix})
}

// RateLimit limits requests per client IP, as reported by the configured
// real IP header.
func RateLimit(conf *configuration.Configuration, cfg RateLimitConfig) (mux.MiddlewareFunc, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.Rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", cfg.Rate, err)
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	m := stdlib.NewMiddleware(
		limiter.New(store, rate),
		stdlib.WithKeyGetter(func(r *http.Request) string {
			return getRealIP(r, conf)
		}),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			requestID, _ := composables.UseRequestID(r.Context())
			_ = httpapi.WriteError(w, http.StatusTooManyRequests, httpapi.CodeRateLimited,
				"too many requests, retry later", requestID, nil)
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			composables.UseLogger(r.Context()).WithError(err).Error("rate limiter store failed")
			requestID, _ := composables.UseRequestID(r.Context())
			_ = httpapi.WriteError(w, http.StatusInternalServerError, httpapi.CodeInternal,
				http.StatusText(http.StatusInternalServerError), requestID, nil)
		}),
	)
	return m.Handler, nil
}
