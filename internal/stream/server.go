package stream

import (
	"context"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/petems/ampviz/internal/amplitude"
	"github.com/petems/ampviz/internal/app"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Source provides the state served over HTTP.
type Source interface {
	Status() app.Status
	Series() []amplitude.Observation
}

// Server is the live feed server. It implements app.Publisher.
type Server struct {
	app    *fiber.App
	hub    *Hub
	source Source
	log    zerolog.Logger
}

func NewServer(source Source, log zerolog.Logger) *Server {
	s := &Server{
		hub:    NewHub(log),
		source: source,
		log:    log,
	}

	fa := fiber.New(fiber.Config{
		AppName:               "ampviz",
		DisableStartupMessage: true,
	})

	api := fa.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/series", s.handleSeries)

	// WebSocket upgrade middleware
	fa.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if !validFormat(c.Query("format")) {
			return fiber.NewError(fiber.StatusBadRequest, "format must be json or msgpack")
		}
		return c.Next()
	})
	fa.Get("/ws/amplitude", websocket.New(s.handleAmplitudeWS))

	s.app = fa
	return s
}

// SetSource sets the state source (for circular dependency resolution)
func (s *Server) SetSource(source Source) {
	s.source = source
}

// Publish forwards ev to every websocket client.
func (s *Server) Publish(ev app.Event) {
	s.hub.Publish(ev)
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	return s.hub.ClientCount()
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listener(ln)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("Live feed listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.source.Status())
}

func (s *Server) handleSeries(c *fiber.Ctx) error {
	st := s.source.Status()
	return c.JSON(fiber.Map{
		"session":      st.Session,
		"observations": s.source.Series(),
	})
}

func (s *Server) handleAmplitudeWS(conn *websocket.Conn) {
	newClient(s.hub, conn, conn.Query("format")).Run()
}
