package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/lunaweb/mcu-bridge/internal/mcu"
)

// Engine is the control surface the HTTP layer drives. *mcu.Engine
// satisfies it.
type Engine interface {
	SetTransport(play bool) (mcu.TransportResult, error)
	TransportPlaying() bool
	SetTrackVolume(track string, fraction float64) (mcu.VolumeResult, error)
	VolumeState() mcu.VolumeStatus
	TriggerDiscovery() bool
	ResetHandshake() error
	BankState() mcu.BankStatus
	Phase() mcu.Phase
	Target() string
}

// Ports reports MIDI connectivity for the status endpoint.
type Ports interface {
	PortName() string
	Connected() bool
	InPorts() []string
	OutPorts() []string
}

// Server exposes the bridge over HTTP for the web control surface.
type Server struct {
	engine Engine
	ports  Ports
	log    logrus.FieldLogger
	mux    *http.ServeMux
}

// NewServer builds the HTTP surface. webDir, when non-empty, is served at
// the root for the browser client.
func NewServer(engine Engine, ports Ports, webDir string, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{engine: engine, ports: ports, log: log, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/play", s.handlePlay)
	s.mux.HandleFunc("GET /api/play-state", s.handlePlayState)
	s.mux.HandleFunc("POST /api/track-volume", s.handleSetVolume)
	s.mux.HandleFunc("GET /api/track-volume", s.handleGetVolume)
	s.mux.HandleFunc("POST /api/discovery", s.handleDiscovery)
	s.mux.HandleFunc("POST /api/reset", s.handleReset)
	s.mux.HandleFunc("GET /api/bank-state", s.handleBankState)

	if webDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(webDir)))
	}
	return s
}

// Handler returns the routed handler with CORS applied. The web client is
// served from a different origin during development, so the API answers
// preflights unconditionally.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"status": "error", "message": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"midi_port":              s.ports.PortName(),
		"connected":              s.ports.Connected(),
		"available_input_ports":  s.ports.InPorts(),
		"available_output_ports": s.ports.OutPorts(),
		"is_playing":             s.engine.TransportPlaying(),
		"phase":                  s.engine.Phase().String(),
		"target_track":           s.engine.Target(),
	})
}

type playRequest struct {
	Play *bool `json:"play"`
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Absent "play" toggles, matching the original endpoint's contract.
	want := !s.engine.TransportPlaying()
	if req.Play != nil {
		want = *req.Play
	}
	res, err := s.engine.SetTransport(want)
	if err != nil {
		s.log.WithError(err).Error("transport command failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"is_playing": res.IsPlaying,
		"action":     res.Action,
	})
}

func (s *Server) handlePlayState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"is_playing": s.engine.TransportPlaying()})
}

type volumeRequest struct {
	Track  string   `json:"track"`
	Volume *float64 `json:"volume"`
}

func (s *Server) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Volume == nil {
		writeError(w, http.StatusBadRequest, errors.New("volume is required"))
		return
	}
	res, err := s.engine.SetTrackVolume(req.Track, *req.Volume)
	switch {
	case errors.Is(err, mcu.ErrNotReady):
		// Discovery was kicked off; the client should retry shortly.
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "discovering"})
		return
	case err != nil:
		s.log.WithError(err).Error("volume command failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"bank":    res.Bank,
		"channel": res.Channel,
	})
}

func (s *Server) handleGetVolume(w http.ResponseWriter, r *http.Request) {
	st := s.engine.VolumeState()
	writeJSON(w, http.StatusOK, map[string]any{
		"last_known_volume": st.LastKnownVolume,
		"discovered":        st.Discovered,
		"bank":              st.Bank,
		"channel":           st.Channel,
	})
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	started := s.engine.TriggerDiscovery()
	writeJSON(w, http.StatusOK, map[string]bool{"started": started})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResetHandshake(); err != nil {
		s.log.WithError(err).Error("handshake reset failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBankState(w http.ResponseWriter, r *http.Request) {
	bs := s.engine.BankState()
	writeJSON(w, http.StatusOK, map[string]int{
		"current_bank":  bs.CurrentBank,
		"original_bank": bs.OriginalBank,
		"backing_bank":  bs.BackingBank,
	})
}

// decodeBody parses an optional JSON body. An empty body is fine; malformed
// JSON is not.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
