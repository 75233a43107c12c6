// Package server exposes the smart-HTTP surface: ref advertisement,
// upload-pack, receive-pack, and a liveness endpoint.
package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/odvcencio/gitcell/pkg/protocol"
	"github.com/odvcencio/gitcell/pkg/store"
)

// Server routes smart-HTTP requests to the protocol handler. Repository
// handles come from the injected registry; the server holds no other
// mutable state.
type Server struct {
	registry *store.Registry
	log      *logrus.Logger
}

// New creates a server over the given handle registry.
func New(registry *store.Registry, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	return &Server{registry: registry, log: log}
}

// Router builds the HTTP route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/{repo}/{user}/info/refs", s.handleInfoRefs).Methods(http.MethodGet)
	r.HandleFunc("/{repo}/{user}/git-upload-pack", s.handleUploadPack).Methods(http.MethodPost)
	r.HandleFunc("/{repo}/{user}/git-receive-pack", s.handleReceivePack).Methods(http.MethodPost)
	r.Use(s.logRequests)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) handleInfoRefs(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	if !protocol.ValidService(service) {
		http.Error(w, "unsupported service", http.StatusBadRequest)
		return
	}

	h, ok := s.openHandle(w, r)
	if !ok {
		return
	}

	out, err := protocol.Advertise(h, service)
	if err != nil {
		s.protocolError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", fmt.Sprintf("application/x-%s-advertisement", service))
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(out)
}

func (s *Server) handleUploadPack(w http.ResponseWriter, r *http.Request) {
	s.handleService(w, r, protocol.ServiceUploadPack, protocol.UploadPack)
}

func (s *Server) handleReceivePack(w http.ResponseWriter, r *http.Request) {
	s.handleService(w, r, protocol.ServiceReceivePack, protocol.ReceivePack)
}

func (s *Server) handleService(
	w http.ResponseWriter,
	r *http.Request,
	service string,
	run func(*store.Handle, []byte) ([]byte, error),
) {
	h, ok := s.openHandle(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}

	out, err := run(h, body)
	if err != nil {
		s.protocolError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", fmt.Sprintf("application/x-%s-result", service))
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(out)
}

func (s *Server) openHandle(w http.ResponseWriter, r *http.Request) (*store.Handle, bool) {
	vars := mux.Vars(r)
	h, err := s.registry.GetOrCreate(vars["repo"], vars["user"])
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"repo": vars["repo"],
			"user": vars["user"],
		}).Warn("open repository")
		http.Error(w, "cannot open repository", http.StatusBadRequest)
		return nil, false
	}
	return h, true
}

// protocolError maps handler failures outside the protocol's in-band
// error channel to a plain HTTP error.
func (s *Server) protocolError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.WithError(err).WithField("path", r.URL.Path).Warn("protocol error")
	http.Error(w, err.Error(), http.StatusBadRequest)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Info("request")
	})
}
