package admission

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"serial-allocator/admission/application"
	"serial-allocator/admission/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// HealthCheck é uma dependência verificada pelo GET /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server reúne as dependências dos handlers HTTP.
type Server struct {
	Booker application.Booker
	// Strategy só rotula a resposta; a estratégia é fixa por deployment.
	Strategy string
	// Dispatcher nil desliga as rotas assíncronas. Quando presente, precisa
	// usar o mesmo contador do Booker.
	Dispatcher *application.Dispatcher
	Lookup     domain.CapacityLookup

	Health  []HealthCheck
	Metrics http.Handler
	// Middlewares envolvem só as rotas /api (throttle, limite de concorrência).
	Middlewares []func(http.Handler) http.Handler

	RequestTimeout time.Duration
	Logger         *zap.Logger
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Server) Router() http.Handler {
	timeout := s.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Route("/api/appointments", func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))
		for _, mw := range s.Middlewares {
			r.Use(mw)
		}
		r.Post("/", s.handleBook)
		r.Post("/async", s.handleBookAsync)
		r.Get("/status/{reference}", s.handleStatus)
	})
	return r
}

// HealthHandler expõe só o GET /health (para processos sem as rotas de booking).
func (s *Server) HealthHandler() http.Handler {
	return http.HandlerFunc(s.handleHealth)
}

type bookingRequest struct {
	DoctorID        int64       `json:"doctorId"`
	HospitalID      int64       `json:"hospitalId"`
	PatientID       int64       `json:"patientId"`
	AppointmentDate domain.Date `json:"appointmentDate"`
	Notes           string      `json:"notes,omitempty"`
}

// bookingPayload é o blob opaco gravado junto com o registro final.
type bookingPayload struct {
	PatientID int64  `json:"patientId"`
	Notes     string `json:"notes,omitempty"`
}

type bookingResponse struct {
	SerialNumber  int64  `json:"serialNumber"`
	AppointmentID int64  `json:"appointmentId"`
	Strategy      string `json:"strategy"`
}

type queuedResponse struct {
	Reference    string `json:"reference"`
	SerialNumber int64  `json:"serialNumber"`
	StatusURL    string `json:"statusUrl"`
}

type statusResponse struct {
	Reference     string `json:"reference"`
	State         string `json:"state"`
	AppointmentID int64  `json:"appointmentId,omitempty"`
	Error         string `json:"error,omitempty"`
	Attempts      int    `json:"attempts"`
}

// resolve decodifica o corpo e resolve a chave e a capacidade.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (domain.Key, int64, []byte, bool) {
	var body bookingRequest
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return domain.Key{}, 0, nil, false
	}
	if body.DoctorID <= 0 || body.HospitalID <= 0 || body.AppointmentDate.IsZero() {
		respondError(w, http.StatusBadRequest, "doctorId, hospitalId and appointmentDate are required")
		return domain.Key{}, 0, nil, false
	}

	res, err := s.Lookup.Lookup(r.Context(), body.DoctorID, body.HospitalID)
	if err != nil {
		s.fail(w, r, err)
		return domain.Key{}, 0, nil, false
	}

	payload, err := json.Marshal(bookingPayload{PatientID: body.PatientID, Notes: body.Notes})
	if err != nil {
		s.fail(w, r, err)
		return domain.Key{}, 0, nil, false
	}
	return domain.NewKey(res.ID, body.AppointmentDate), res.Capacity, payload, true
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	key, capacity, payload, ok := s.resolve(w, r)
	if !ok {
		return
	}

	out, err := s.Booker.Book(r.Context(), key, capacity, payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	switch o := out.(type) {
	case domain.Accepted:
		respondJSON(w, http.StatusCreated, bookingResponse{
			SerialNumber:  int64(o.Serial),
			AppointmentID: int64(o.DurableID),
			Strategy:      s.Strategy,
		})
	case domain.Rejected:
		s.reject(w, o)
	default:
		s.fail(w, r, errors.New("unexpected booking outcome"))
	}
}

func (s *Server) handleBookAsync(w http.ResponseWriter, r *http.Request) {
	if s.Dispatcher == nil {
		respondError(w, http.StatusServiceUnavailable, "async booking disabled")
		return
	}
	key, capacity, payload, ok := s.resolve(w, r)
	if !ok {
		return
	}

	out, err := s.Dispatcher.SubmitAsync(r.Context(), key, capacity, payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	switch o := out.(type) {
	case domain.Queued:
		respondJSON(w, http.StatusAccepted, queuedResponse{
			Reference:    string(o.Reference),
			SerialNumber: int64(o.Serial),
			StatusURL:    "/api/appointments/status/" + string(o.Reference),
		})
	case domain.Rejected:
		s.reject(w, o)
	default:
		s.fail(w, r, errors.New("unexpected booking outcome"))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.Dispatcher == nil {
		respondError(w, http.StatusServiceUnavailable, "async booking disabled")
		return
	}
	ref := domain.Reference(chi.URLParam(r, "reference"))
	st, err := s.Dispatcher.GetStatus(r.Context(), ref)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	code := http.StatusOK
	if st.State == domain.StateUnknown {
		// inconclusivo: nunca visto ou já expirado
		code = http.StatusNotFound
	}
	respondJSON(w, code, statusResponse{
		Reference:     string(ref),
		State:         string(st.State),
		AppointmentID: int64(st.DurableID),
		Error:         st.Error,
		Attempts:      st.Attempts,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.Health))
	healthy := true
	for _, h := range s.Health {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.Check(ctx)
		cancel()
		if err != nil {
			healthy = false
			checks[h.Name] = err.Error()
			continue
		}
		checks[h.Name] = "ok"
	}
	if !healthy {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "checks": checks})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "checks": checks})
}

func (s *Server) reject(w http.ResponseWriter, o domain.Rejected) {
	switch o.Reason {
	case domain.ReasonCapacityExceeded:
		respondError(w, http.StatusConflict, "Daily patient limit reached for this doctor at this hospital")
	case domain.ReasonLockTimeout:
		w.Header().Set("Retry-After", retryAfterSeconds(o.RetryAfter))
		respondError(w, http.StatusServiceUnavailable, "too much contention for this doctor and date, retry later")
	default:
		respondError(w, http.StatusConflict, o.Reason.String())
	}
}

// fail traduz erros para status; detalhes de erros internos só vão para o log.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger().Error("booking request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		respondError(w, code, http.StatusText(code))
		return
	}
	respondError(w, code, err.Error())
}

// StatusFor mapeia a taxonomia de erros do domínio para HTTP.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrCapacityExceeded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrLockTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
