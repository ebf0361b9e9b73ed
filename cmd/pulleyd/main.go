// Command pulleyd exposes the pulley verb surface (§6.4) over a small JSON
// HTTP API, grounded on dolthub's server/ package idiom of wrapping the core
// engine behind a network listener, simplified down to the verb surface's
// contract instead of the MySQL wire protocol.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/arpa2/pulley/auth"
	"github.com/arpa2/pulley/config"
	"github.com/arpa2/pulley/pulley"
)

func main() {
	cfgPath := flag.String("config", "", "path to a pulley YAML configuration file")
	addr := flag.String("addr", ":8730", "address to listen on")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			logrus.WithError(err).Fatal("failed to load configuration")
		}
		cfg = loaded
	}

	ctrl, err := pulley.New(cfg)
	if err != nil {
		cfg.Log.WithError(err).Fatal("failed to start controller")
	}
	defer ctrl.Close()

	var authn auth.Authenticator = &auth.None{}
	if cfg.TokenFile != "" {
		native, err := auth.NewNativeFile(cfg.TokenFile)
		if err != nil {
			cfg.Log.WithError(err).Fatal("failed to load token file")
		}
		authn = native
	}
	if l, ok := cfg.Log.(*logrus.Logger); ok {
		authn = auth.NewAudit(authn, auth.NewAuditLog(l))
	}

	srv := &server{ctrl: ctrl, log: cfg.Log, auth: authn}
	router := mux.NewRouter()
	router.Use(srv.authMiddleware)
	router.HandleFunc("/script", srv.handleScript).Methods(http.MethodPost)
	router.HandleFunc("/add_entry", srv.handleAddEntry).Methods(http.MethodPost)
	router.HandleFunc("/remove_entry", srv.handleRemoveEntry).Methods(http.MethodPost)
	router.HandleFunc("/resync", srv.handleResync).Methods(http.MethodPost)
	router.HandleFunc("/dump_state", srv.handleDumpState).Methods(http.MethodGet)
	router.HandleFunc("/stop", srv.handleStop).Methods(http.MethodPost)

	cfg.Log.WithField("addr", *addr).Info("pulleyd listening")
	if err := http.ListenAndServe(*addr, router); err != nil {
		cfg.Log.WithError(err).Fatal("http server exited")
	}
}

// server adapts the verb surface to JSON routes. Every response carries
// the (status, message, payload) shape of §6.4.
type server struct {
	ctrl *pulley.Controller
	log  logrus.FieldLogger
	auth auth.Authenticator
}

// authMiddleware checks the Authorization: Bearer <token> header against
// the permission the requested verb needs (auth.VerbPermission), before
// any handler runs.
func (s *server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verb := strings.TrimPrefix(r.URL.Path, "/")
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		start := time.Now()
		if a, ok := s.auth.(*auth.Audit); ok {
			err := a.AllowedVerb(verb, token, auth.VerbPermission(verb))
			if err != nil {
				s.writeJSON(w, http.StatusForbidden, response{Status: "error", Message: err.Error()})
				return
			}
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			var verbErr error
			if rw.status >= 400 {
				verbErr = errStatus(rw.status)
			}
			a.Verb(verb, time.Since(start), verbErr)
			return
		}

		if err := s.auth.Allowed(token, auth.VerbPermission(verb)); err != nil {
			s.writeJSON(w, http.StatusForbidden, response{Status: "error", Message: err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code a handler wrote, so authMiddleware
// can report verb outcomes to the audit trail without every handler knowing
// about auditing.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type errStatus int

func (e errStatus) Error() string { return http.StatusText(int(e)) }

type response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

func (s *server) writeJSON(w http.ResponseWriter, code int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.WithError(err).Warn("failed to encode response")
	}
}

func (s *server) fail(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, response{Status: "error", Message: err.Error()})
}

func (s *server) handleScript(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctrl.Script(r.Context(), string(body)); err != nil {
		s.fail(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, response{Status: "ok"})
}

type entryRequest struct {
	UUID  string              `json:"uuid"`
	Attrs map[string][]string `json:"attrs"`
}

func (s *server) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctrl.AddEntry(r.Context(), req.UUID, req.Attrs); err != nil {
		s.fail(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, response{Status: "ok"})
}

func (s *server) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ctrl.RemoveEntry(r.Context(), req.UUID); err != nil {
		s.fail(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, response{Status: "ok"})
}

func (s *server) handleResync(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Resync(r.Context()); err != nil {
		s.fail(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, response{Status: "ok"})
}

func (s *server) handleDumpState(w http.ResponseWriter, r *http.Request) {
	dump, err := s.ctrl.DumpState()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, response{Status: "ok", Payload: dump})
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, response{Status: "ok"})
}
