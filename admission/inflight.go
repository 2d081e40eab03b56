package admission

import (
	"net/http"
	"time"

	"serial-allocator/admission/application"
	"serial-allocator/admission/infra"
)

type InflightOptions struct {
	Max            int
	AcquireTimeout time.Duration
}

// InflightLimit limita os bookings em andamento no processo. Sem vaga dentro do
// AcquireTimeout responde 503; Max <= 0 desliga.
func InflightLimit(opts InflightOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	svc := application.InflightService{
		Pool:           infra.NewChanPool(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				w.Header().Set("Retry-After", "1")
				respondError(w, http.StatusServiceUnavailable, "server busy, retry later")
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
