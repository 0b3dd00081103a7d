package relay

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trustline/internal/crypto"
	"trustline/internal/domain"
	"trustline/internal/logging"
	"trustline/internal/metrics"
)

// maxBody bounds request bodies; photos are the largest payload.
const maxBody = 8 << 20

// ServerOptions configure the HTTP handler.
type ServerOptions struct {
	Log     *zap.Logger
	Metrics *metrics.Metrics
	// Gatherer backs /metrics. The route is not mounted when nil.
	Gatherer prometheus.Gatherer
	// RateLimit is the number of requests per minute allowed per client
	// address. Zero disables the limiter.
	RateLimit int
}

type server struct {
	svc     *Service
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewHandler returns the relay HTTP API over svc.
func NewHandler(svc *Service, opts ServerOptions) http.Handler {
	s := &server{svc: svc, log: logging.Or(opts.Log).Named("relay.http"), metrics: opts.Metrics}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if opts.RateLimit > 0 {
		r.Use(httprate.LimitByIP(opts.RateLimit, time.Minute))
	}
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/envelopes", s.postEnvelopes)
		r.Get("/envelopes/{identity}/{device}", s.fetchEnvelopes)
		r.Post("/envelopes/{identity}/{device}/ack", s.ackEnvelopes)

		r.Put("/devices/{identity}", s.registerDevice)
		r.Get("/devices/{identity}", s.devices)

		r.Put("/prekeys/{identity}/{device}", s.publishPreKey)
		r.Get("/prekeys/{identity}", s.preKeys)

		r.Put("/photos/{label}", s.putPhoto)
		r.Get("/photos/{label}", s.photo)

		r.Post("/revocation/check", s.checkRevocation)
		r.Put("/revocation/{identity}", s.revoke)
	})
	return r
}

// observe logs each request and records it by route pattern.
func (s *server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		d := time.Since(start)
		s.metrics.RelayRequest(r.Method, route, status, d)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", d),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

type envelopesRequest struct {
	Envelopes []domain.Envelope `json:"envelopes"`
}

type ackRequest struct {
	IDs []string `json:"ids"`
}

type deviceRequest struct {
	Device domain.UID `json:"device"`
}

type devicesResponse struct {
	Devices []domain.UID `json:"devices"`
}

type preKeysResponse struct {
	PreKeys []domain.SignedPreKey `json:"prekeys"`
}

type revocationRequest struct {
	Identity domain.Identity `json:"identity"`
}

type revocationResponse struct {
	Revoked bool `json:"revoked"`
}

func (s *server) postEnvelopes(w http.ResponseWriter, r *http.Request) {
	var req envelopesRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.Post(r.Context(), req.Envelopes); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) fetchEnvelopes(w http.ResponseWriter, r *http.Request) {
	identity, device, ok := s.mailbox(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	envs, err := s.svc.Fetch(r.Context(), identity, device, limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if envs == nil {
		envs = []domain.Envelope{}
	}
	writeJSON(w, envelopesRequest{Envelopes: envs})
}

func (s *server) ackEnvelopes(w http.ResponseWriter, r *http.Request) {
	identity, device, ok := s.mailbox(w, r)
	if !ok {
		return
	}
	var req ackRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.Ack(r.Context(), identity, device, req.IDs); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) registerDevice(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req deviceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.RegisterDevice(r.Context(), identity, req.Device); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) devices(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	devs, err := s.svc.Devices(r.Context(), identity)
	if err != nil {
		s.fail(w, err)
		return
	}
	if devs == nil {
		devs = []domain.UID{}
	}
	writeJSON(w, devicesResponse{Devices: devs})
}

func (s *server) publishPreKey(w http.ResponseWriter, r *http.Request) {
	identity, device, ok := s.mailbox(w, r)
	if !ok {
		return
	}
	var spk domain.SignedPreKey
	if !s.decode(w, r, &spk) {
		return
	}
	if spk.Identity != identity || spk.Device != device {
		http.Error(w, "pre-key does not match path", http.StatusBadRequest)
		return
	}
	if err := s.svc.PublishPreKey(r.Context(), spk); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) preKeys(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	spks, err := s.svc.PreKeys(r.Context(), identity)
	if err != nil {
		s.fail(w, err)
		return
	}
	if spks == nil {
		spks = []domain.SignedPreKey{}
	}
	writeJSON(w, preKeysResponse{PreKeys: spks})
}

func (s *server) putPhoto(w http.ResponseWriter, r *http.Request) {
	data, err := readAll(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.svc.PutPhoto(r.Context(), chi.URLParam(r, "label"), data); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) photo(w http.ResponseWriter, r *http.Request) {
	data, ok, err := s.svc.Photo(r.Context(), chi.URLParam(r, "label"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *server) checkRevocation(w http.ResponseWriter, r *http.Request) {
	var req revocationRequest
	if !s.decode(w, r, &req) {
		return
	}
	revoked, err := s.svc.IsRevoked(r.Context(), req.Identity)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, revocationResponse{Revoked: revoked})
}

func (s *server) revoke(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	if err := s.svc.Revoke(r.Context(), identity); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) identity(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	id, err := domain.ParseIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return domain.Identity{}, false
	}
	return id, true
}

func (s *server) mailbox(w http.ResponseWriter, r *http.Request) (domain.Identity, domain.UID, bool) {
	id, ok := s.identity(w, r)
	if !ok {
		return domain.Identity{}, domain.UID{}, false
	}
	dev, err := domain.ParseUID(chi.URLParam(r, "device"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return domain.Identity{}, domain.UID{}, false
	}
	return id, dev, true
}

func (s *server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		http.Error(w, "bad request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownIdentity):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrBadPreKey),
		errors.Is(err, crypto.ErrBadIdentity):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.log.Error("request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func readAll(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
}
