package httpadapter

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// TrafficControl bounds the retrieval endpoint. Zero values disable the
// corresponding gate.
type TrafficControl struct {
	RateLimitRPS     float64
	RateLimitBurst   int
	MaxInFlight      int
	BackpressureWait time.Duration
}

func (tc TrafficControl) wrap(next http.Handler) http.Handler {
	if tc.MaxInFlight > 0 {
		next = backpressureMiddleware(next, tc.MaxInFlight, tc.BackpressureWait)
	}
	if tc.RateLimitRPS > 0 {
		next = rateLimitMiddleware(next, rate.NewLimiter(rate.Limit(tc.RateLimitRPS), max(tc.RateLimitBurst, 1)))
	}
	return next
}

func rateLimitMiddleware(next http.Handler, limiter *rate.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reservation := limiter.Reserve()
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			retryAfter := int(math.Ceil(delay.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// backpressureMiddleware admits at most maxInFlight concurrent requests.
// A request waits up to wait for a slot and is rejected with 503 after that.
func backpressureMiddleware(next http.Handler, maxInFlight int, wait time.Duration) http.Handler {
	slots := make(chan struct{}, maxInFlight)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case slots <- struct{}{}:
		case <-timer.C:
			writeError(w, http.StatusServiceUnavailable, "overloaded", "server is overloaded")
			return
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "overloaded", "request cancelled while waiting")
			return
		}
		defer func() { <-slots }()
		next.ServeHTTP(w, r)
	})
}
