package admission

import (
	"net"
	"net/http"
	"strings"
	"time"

	"serial-allocator/admission/application"
	"serial-allocator/admission/domain"

	"go.uber.org/zap"
)

// KeyFunc identifica o cliente que disputa slots de booking.
type KeyFunc func(r *http.Request) string

// ThrottleOptions configura o throttle por cliente na frente das rotas de booking.
type ThrottleOptions struct {
	Store domain.LimiterStore
	// Stats recebe um evento "edge/throttled" por rejeição (best-effort).
	Stats  domain.StatsStore
	Logger *zap.Logger

	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool
	RetryAfter         time.Duration
	AddHeaders         bool
	// ThrottleReads faz o GET de status também gastar tokens. Desligado, só
	// POST de booking conta, e o polling de status nunca é barrado.
	ThrottleReads bool
}

type rateInfo interface {
	RPS() float64
	Burst() int
}

// DefaultKeyFunc usa, nessa ordem: o header configurado, o primeiro IP do
// X-Forwarded-For (se confiável) e o host de RemoteAddr.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if k := headerKey(r, keyHeader); k != "" {
			return k
		}
		if trustXFF {
			if k := forwardedKey(r); k != "" {
				return k
			}
		}
		return remoteKey(r)
	}
}

func headerKey(r *http.Request, name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSpace(r.Header.Get(name))
}

func forwardedKey(r *http.Request) string {
	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	return strings.TrimSpace(first)
}

func remoteKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr != "" {
		return addr
	}
	return "unknown"
}

// Throttle responde 429 com Retry-After quando o cliente estoura o bucket.
// Um cliente barrado aqui nunca chega a disputar o lease da chave.
func Throttle(opts ThrottleOptions) func(next http.Handler) http.Handler {
	if opts.Store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	svc := application.ThrottleService{Store: opts.Store, RetryAfter: opts.RetryAfter}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !opts.ThrottleReads && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
				next.ServeHTTP(w, r)
				return
			}

			client := opts.KeyFn(r)
			if opts.AddHeaders {
				setRateHeaders(w, client, opts.Store)
			}

			dec := svc.Decide(domain.ClientKey(client))
			if dec.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			if opts.Stats != nil {
				if err := opts.Stats.Record(r.Context(), domain.StatsEvent{Strategy: "edge", Outcome: "throttled", At: time.Now()}); err != nil {
					log.Debug("stats record failed", zap.Error(err))
				}
			}
			log.Debug("booking throttled", zap.String("client", client), zap.Duration("retry_after", dec.RetryAfter))
			w.Header().Set("Retry-After", retryAfterSeconds(dec.RetryAfter))
			respondError(w, http.StatusTooManyRequests, "too many booking requests from this client")
		})
	}
}

func setRateHeaders(w http.ResponseWriter, client string, store domain.LimiterStore) {
	w.Header().Set("X-RateLimit-Key", client)
	if ri, ok := store.(rateInfo); ok {
		w.Header().Set("X-RateLimit-RPS", formatFloat(ri.RPS()))
		w.Header().Set("X-RateLimit-Burst", formatInt(ri.Burst()))
	}
}
