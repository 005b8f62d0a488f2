// Package web provides a read-only HTTP and websocket view of a running
// fuzz campaign: current throughput/coverage stats and the crash feed.
package web

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
)

// Stats is the live snapshot served at /api/stats.
type Stats struct {
	Target        string    `json:"target"`
	StartTime     time.Time `json:"startTime"`
	Executions    int64     `json:"executions"`
	ExecPerSec    float64   `json:"execPerSec"`
	CoverageEdges int       `json:"coverageEdges"`
	CorpusSize    int       `json:"corpusSize"`
	CrashCount    int       `json:"crashCount"`
	BugCount      int       `json:"bugCount"`
}

// Crash is one entry in the crash feed served at /api/crashes.
type Crash struct {
	Digest    string    `json:"digest"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Size      int       `json:"size"`
}

// Server is a read-only dashboard server: it never mutates the fuzz
// campaign, only reports on it.
type Server struct {
	app *fiber.App

	mu     sync.RWMutex
	stats  Stats
	crashes []Crash

	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan []byte
}

// NewServer creates a new read-only dashboard server.
func NewServer(target string) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	s := &Server{
		app:       app,
		stats:     Stats{Target: target, StartTime: time.Now()},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 256),
	}

	s.setupRoutes()
	go s.runBroadcast()

	return s
}

func (s *Server) setupRoutes() {
	s.app.Use(cors.New())

	api := s.app.Group("/api")
	api.Get("/stats", s.handleStats)
	api.Get("/crashes", s.handleCrashes)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleWebSocket))
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return c.JSON(s.stats)
}

func (s *Server) handleCrashes(c *fiber.Ctx) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Crash, len(s.crashes))
	copy(out, s.crashes)
	return c.JSON(out)
}

func (s *Server) handleWebSocket(c *websocket.Conn) {
	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
		c.Close()
	}()

	s.mu.RLock()
	data, _ := json.Marshal(event{Type: "stats", Data: s.stats})
	s.mu.RUnlock()
	c.WriteMessage(websocket.TextMessage, data)

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) runBroadcast() {
	for msg := range s.broadcast {
		s.clientsMu.Lock()
		for client := range s.clients {
			if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
				client.Close()
				delete(s.clients, client)
			}
		}
		s.clientsMu.Unlock()
	}
}

type event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (s *Server) push(evt event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case s.broadcast <- data:
	default:
	}
}

// UpdatePulse records a controller throughput pulse and broadcasts it.
func (s *Server) UpdatePulse(executions int64, execPerSec float64) {
	s.mu.Lock()
	s.stats.Executions = executions
	s.stats.ExecPerSec = execPerSec
	s.mu.Unlock()

	s.mu.RLock()
	snap := s.stats
	s.mu.RUnlock()
	s.push(event{Type: "stats", Data: snap})
}

// UpdateCoverage records new edge/corpus totals and broadcasts them.
func (s *Server) UpdateCoverage(edges, corpusSize int) {
	s.mu.Lock()
	s.stats.CoverageEdges = edges
	s.stats.CorpusSize = corpusSize
	s.mu.Unlock()

	s.mu.RLock()
	snap := s.stats
	s.mu.RUnlock()
	s.push(event{Type: "stats", Data: snap})
}

// RecordCrash appends a crash to the feed and broadcasts it.
func (s *Server) RecordCrash(digest, message string, size int) {
	c := Crash{Digest: digest, Timestamp: time.Now(), Message: message, Size: size}

	s.mu.Lock()
	s.crashes = append(s.crashes, c)
	s.stats.CrashCount = len(s.crashes)
	s.mu.Unlock()

	s.push(event{Type: "crash", Data: c})
}

// RecordBug increments the internal-bug counter and broadcasts it.
func (s *Server) RecordBug() {
	s.mu.Lock()
	s.stats.BugCount++
	snap := s.stats
	s.mu.Unlock()

	s.push(event{Type: "stats", Data: snap})
}

// Start serves the dashboard, blocking until the listener errors out.
func (s *Server) Start(addr string) error {
	log.Printf("web dashboard listening at http://localhost%s", addr)
	return s.app.Listen(addr)
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	return s.app.Shutdown()
}
