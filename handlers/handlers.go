package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"wb_scraper/export"
	"wb_scraper/models"
	"wb_scraper/scheduler"
	"wb_scraper/scraper"
)

// DataSource is the read side of the store.
type DataSource interface {
	Stats(ctx context.Context) (*models.Stats, error)
	Subscriptions(ctx context.Context) ([]models.SubscriptionView, error)
}

type Starter interface {
	TryStart(opts scraper.RunOptions) error
}

type StatusSource interface {
	Snapshot() models.ProgressState
}

type Server struct {
	data     DataSource
	exporter *export.Exporter
	starter  Starter
	status   StatusSource
	subFile  string
	loadIDs  func() ([]string, error)
	log      logrus.FieldLogger
}

func NewServer(data DataSource, exporter *export.Exporter, starter Starter, status StatusSource, subscriptionFile string, log logrus.FieldLogger) *Server {
	return &Server{
		data:     data,
		exporter: exporter,
		starter:  starter,
		status:   status,
		subFile:  subscriptionFile,
		loadIDs: func() ([]string, error) {
			return scraper.LoadIdentifiers(subscriptionFile)
		},
		log: log,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/data", s.handleData)
	mux.HandleFunc("GET /api/export/json", s.handleExport(export.FormatJSON))
	mux.HandleFunc("GET /api/export/csv", s.handleExport(export.FormatCSV))
	mux.HandleFunc("GET /api/scraping/status", s.handleStatus)
	mux.HandleFunc("POST /api/scraping/start", s.handleStart)
	mux.HandleFunc("POST /api/scraping/start-fast", s.handleStartMode(true))
	mux.HandleFunc("POST /api/scraping/start-manual", s.handleStartMode(false))
	mux.HandleFunc("GET /api/scraping/subscriptions", s.handleSubscriptions)
	return mux
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.log.WithError(err).Error("Marshalling JSON response")
		http.Error(w, `{"error":"Failed to marshal JSON response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.log.WithField("status", code).Warnf("API error: %s", message)
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.data.Stats(r.Context())
	if err != nil {
		s.respondWithError(w, http.StatusInternalServerError, "Failed to load stats: "+err.Error())
		return
	}
	s.respondWithJSON(w, http.StatusOK, stats)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	subs, err := s.data.Subscriptions(r.Context())
	if err != nil {
		s.respondWithError(w, http.StatusInternalServerError, "Failed to load data: "+err.Error())
		return
	}
	s.respondWithJSON(w, http.StatusOK, subs)
}

func (s *Server) handleExport(f export.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, err := s.exporter.Save(r.Context(), f)
		if err != nil {
			if path == "" {
				s.respondWithError(w, http.StatusInternalServerError, "Export failed: "+err.Error())
				return
			}
			// The local file is still good when only the upload failed.
			s.log.WithError(err).Warn("Export upload failed")
		}

		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(path)))
		w.Header().Set("Content-Type", f.ContentType())
		http.ServeFile(w, r, path)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, s.status.Snapshot())
}

type startResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	requestBody := struct {
		Headless *bool `json:"headless"`
	}{}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil && !errors.Is(err, io.EOF) {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	headless := true
	if requestBody.Headless != nil {
		headless = *requestBody.Headless
	}
	s.start(w, headless)
}

func (s *Server) handleStartMode(headless bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.start(w, headless)
	}
}

func (s *Server) start(w http.ResponseWriter, headless bool) {
	err := s.starter.TryStart(scraper.RunOptions{Headless: headless})
	if errors.Is(err, scheduler.ErrRunInProgress) {
		s.respondWithJSON(w, http.StatusConflict, startResponse{Message: "Scraping already in progress"})
		return
	}
	if err != nil {
		s.respondWithError(w, http.StatusInternalServerError, "Failed to start scraping: "+err.Error())
		return
	}

	mode := "fast parallel"
	if !headless {
		mode = "visible (manual login)"
	}
	s.respondWithJSON(w, http.StatusAccepted, startResponse{Success: true, Message: "Scraping started in " + mode + " mode"})
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.loadIDs()
	if err != nil {
		s.log.WithError(err).Warn("Could not read subscriptions")
		ids = []string{}
	}
	s.respondWithJSON(w, http.StatusOK, map[string]any{
		"subscriptions": ids,
		"count":         len(ids),
		"file":          s.subFile,
	})
}
