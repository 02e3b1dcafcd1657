// Package api exposes the receiver over HTTP: REST routes for tuning and a
// websocket feed of the signal level.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberLogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"go-rtl-radio/internal/config"
	"go-rtl-radio/internal/radio"
	"go-rtl-radio/internal/rtl2832u"
	"go-rtl-radio/internal/transport"
)

// Radio is the receiver under control. *radio.Receiver implements it.
type Radio interface {
	Tune(freq float64) (float64, error)
	SetSampleRate(rate int) (int, error)
	SetGain(g rtl2832u.Gain) error
	SetFrequencyCorrection(ppm float64) error
	Status() radio.Status
	Subscribe() (levels <-chan float64, cancel func())
}

// LevelFrame is one websocket message.
type LevelFrame struct {
	Type     string  `json:"type"`
	Listener string  `json:"listener,omitempty"`
	Level    float64 `json:"level"`
	Time     int64   `json:"time,omitempty"`
}

// Server serves the control API for one receiver.
type Server struct {
	radio  Radio
	logger *slog.Logger

	listenersMu sync.RWMutex
	listeners   map[string]time.Time
}

// New creates a Server for r.
func New(r Radio, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		radio:     r,
		logger:    logger,
		listeners: make(map[string]time.Time),
	}
}

// NewApp returns a fiber app with the routes registered.
func NewApp(s *Server) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "rtlradio",
		ReadTimeout:           30 * time.Second,
		DisableStartupMessage: true,
	})
	app.Use(fiberLogger.New(fiberLogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))
	s.RegisterRoutes(app)
	return app
}

// RegisterRoutes adds the radio routes to app.
func (s *Server) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/radio")

	api.Get("/status", s.handleStatus)
	api.Post("/frequency", s.handleSetFrequency)
	api.Post("/samplerate", s.handleSetSampleRate)
	api.Post("/ppm", s.handleSetPPM)
	api.Post("/gain", s.handleSetGain)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(s.handleWebSocket))
}

// Listeners returns the ids of the connected websocket listeners.
func (s *Server) Listeners() []string {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	ids := make([]string, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	status := s.radio.Status()
	return SendSuccess(c, fiber.Map{
		"radio":     status,
		"listeners": len(s.Listeners()),
	}, "")
}

func (s *Server) handleSetFrequency(c *fiber.Ctx) error {
	var req struct {
		Frequency config.Frequency `json:"frequency"`
	}
	if err := c.BodyParser(&req); err != nil || req.Frequency <= 0 {
		return SendErrorMessage(c, http.StatusBadRequest, "Invalid request body")
	}

	achieved, err := s.radio.Tune(req.Frequency.Hz())
	if err != nil {
		return SendError(c, errorStatus(err), err)
	}
	s.logger.Info("Frequency set", "requested", req.Frequency.Hz(), "achieved", achieved)
	return SendSuccess(c, fiber.Map{
		"frequency": achieved,
	}, "Frequency set successfully")
}

func (s *Server) handleSetSampleRate(c *fiber.Ctx) error {
	var req struct {
		SampleRate config.Frequency `json:"sample_rate"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, http.StatusBadRequest, "Invalid request body")
	}
	rate := req.SampleRate.Int()
	if rate < config.MinSampleRate || rate > config.MaxSampleRate {
		return SendErrorMessage(c, http.StatusBadRequest,
			fmt.Sprintf("Sample rate must be within %d..%d Hz", config.MinSampleRate, config.MaxSampleRate))
	}

	actual, err := s.radio.SetSampleRate(rate)
	if err != nil {
		return SendError(c, errorStatus(err), err)
	}
	s.logger.Info("Sample rate set", "requested", rate, "actual", actual)
	return SendSuccess(c, fiber.Map{
		"sample_rate": actual,
	}, "Sample rate set successfully")
}

func (s *Server) handleSetPPM(c *fiber.Ctx) error {
	var req struct {
		PPM *float64 `json:"ppm"`
	}
	if err := c.BodyParser(&req); err != nil || req.PPM == nil {
		return SendErrorMessage(c, http.StatusBadRequest, "Invalid request body")
	}

	if err := s.radio.SetFrequencyCorrection(*req.PPM); err != nil {
		return SendError(c, errorStatus(err), err)
	}
	s.logger.Info("Frequency correction set", "ppm", *req.PPM)
	return SendSuccess(c, fiber.Map{
		"ppm": *req.PPM,
	}, "Frequency correction set successfully")
}

func (s *Server) handleSetGain(c *fiber.Ctx) error {
	var req struct {
		Gain any `json:"gain"`
	}
	if err := c.BodyParser(&req); err != nil {
		return SendErrorMessage(c, http.StatusBadRequest, "Invalid request body")
	}

	var gain rtl2832u.Gain
	switch v := req.Gain.(type) {
	case float64:
		gain = rtl2832u.ManualGain(v)
	case string:
		g, err := rtl2832u.ParseGain(v)
		if err != nil {
			return SendError(c, http.StatusBadRequest, err)
		}
		gain = g
	default:
		return SendErrorMessage(c, http.StatusBadRequest, `Gain must be "auto" or a number of dB`)
	}

	if err := s.radio.SetGain(gain); err != nil {
		return SendError(c, errorStatus(err), err)
	}
	s.logger.Info("Gain set", "gain", gain)
	return SendSuccess(c, fiber.Map{
		"gain": gain.String(),
	}, "Gain set successfully")
}

// handleWebSocket streams signal levels until the client disconnects.
func (s *Server) handleWebSocket(c *websocket.Conn) {
	id := uuid.New().String()
	s.listenersMu.Lock()
	s.listeners[id] = time.Now()
	s.listenersMu.Unlock()
	defer func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
		s.logger.Info("Listener disconnected", "listener", id)
	}()
	s.logger.Info("Listener connected", "listener", id, "ip", c.RemoteAddr().String())

	levels, cancel := s.radio.Subscribe()
	defer cancel()

	if err := c.WriteJSON(LevelFrame{Type: "hello", Listener: id}); err != nil {
		return
	}

	// The client sends nothing; a failed read means it went away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case level, ok := <-levels:
			if !ok {
				return
			}
			frame := LevelFrame{Type: "level", Level: level, Time: time.Now().UnixMilli()}
			if err := c.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}

// errorStatus maps driver errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, radio.ErrNoHardware):
		return http.StatusConflict
	case errors.Is(err, rtl2832u.ErrTuningInfeasible),
		errors.Is(err, transport.ErrInvalidArgument):
		return http.StatusUnprocessableEntity
	default:
		var te *transport.TransportError
		if errors.As(err, &te) {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
}

