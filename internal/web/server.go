package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"photo-derivatives-go/internal/batch"
)

var _ batch.Reporter = (*Server)(nil)

// RunFunc performs one batch run. Implementations attach the Server as a
// batch.Reporter so progress reaches websocket clients.
type RunFunc func(ctx context.Context, req RunRequest) (*batch.Report, error)

// wsWriteTimeout bounds each websocket write. A client that stops reading is
// dropped once it is exceeded so a run is never held up by it.
const wsWriteTimeout = 5 * time.Second

type Server struct {
	log        *logrus.Logger
	run        RunFunc
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex
	wsTimeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Current operation state
	operationMutex sync.RWMutex
	isRunning      bool
	currentRunID   string
	filesTotal     int
	filesDone      int
	lastReport     *batch.Report
	lastError      string
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// RunRequest is the optional body of POST /api/runs.
type RunRequest struct {
	DryRun bool `json:"dry_run"`
	Force  bool `json:"force"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(log *logrus.Logger, run RunFunc) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		log:       log,
		run:       run,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsTimeout: wsWriteTimeout,
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/runs", s.handleStartRun).Methods("POST")
	api.HandleFunc("/runs/last", s.handleLastRun).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting run API on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop cancels an active run, waits for it to return and shuts the HTTP
// server down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	s.wg.Wait()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	data := map[string]interface{}{
		"running": s.isRunning,
		"run_id":  s.currentRunID,
		"progress": map[string]int{
			"done":  s.filesDone,
			"total": s.filesTotal,
		},
	}
	if s.lastReport != nil {
		data["last_summary"] = s.lastReport.Summary
	}
	s.operationMutex.RUnlock()

	s.wsMutex.RLock()
	data["clients"] = len(s.wsClients)
	s.wsMutex.RUnlock()

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    data,
	})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeError(w, "Run already in progress", http.StatusConflict)
		return
	}
	s.isRunning = true
	s.currentRunID = ""
	s.filesDone, s.filesTotal = 0, 0
	s.operationMutex.Unlock()

	s.wg.Add(1)
	go s.runAsync(req)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(APIResponse{
		Success: true,
		Message: "Run started",
	})
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	report := s.lastReport
	lastError := s.lastError
	s.operationMutex.RUnlock()

	if report == nil && lastError == "" {
		s.writeError(w, "No run has completed yet", http.StatusNotFound)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: lastError == "",
		Data:    report,
		Error:   lastError,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) runAsync(req RunRequest) {
	defer s.wg.Done()

	report, err := s.run(s.ctx, req)

	s.operationMutex.Lock()
	s.isRunning = false
	if report != nil {
		s.lastReport = report
	}
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
	s.operationMutex.Unlock()

	if err != nil {
		s.log.WithError(err).Error("Run failed")
		s.broadcastWSMessage("run_error", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// RunStarted implements batch.Reporter.
func (s *Server) RunStarted(runID string, total int) {
	s.operationMutex.Lock()
	s.currentRunID = runID
	s.filesTotal = total
	s.filesDone = 0
	s.operationMutex.Unlock()

	s.broadcastWSMessage("run_started", map[string]interface{}{
		"run_id": runID,
		"total":  total,
	})
}

// FileDone implements batch.Reporter.
func (s *Server) FileDone(runID string, outcome batch.FileOutcome) {
	s.operationMutex.Lock()
	s.filesDone++
	s.operationMutex.Unlock()

	s.broadcastWSMessage("file_done", map[string]interface{}{
		"run_id":  runID,
		"outcome": outcome,
	})
}

// RunDone implements batch.Reporter.
func (s *Server) RunDone(report *batch.Report) {
	s.broadcastWSMessage("run_completed", map[string]interface{}{
		"run_id":  report.RunID,
		"dry_run": report.DryRun,
		"result":  report.Result(),
		"summary": report.Summary,
	})
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	// Writes are serialized by holding the write lock; gorilla connections
	// support only one concurrent writer.
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		err := conn.SetWriteDeadline(time.Now().Add(s.wsTimeout))
		if err == nil {
			err = conn.WriteMessage(websocket.TextMessage, msgBytes)
		}
		if err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
