package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server runs the gateway on its own listener.
type Server struct {
	session Session
	logger  zerolog.Logger
	engine  *gin.Engine
	srv     *http.Server

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewServer(session Session, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	NewGatewayAPI(session, logger).Setup(r)
	return &Server{session: session, logger: logger, engine: r}
}

func (s *Server) Handler() http.Handler { return s.engine }

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when addr ends in ":0".
func (s *Server) Start(addr string) (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return nil, errors.New("gateway: already running")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	// request contexts derive from base so open event streams end on stop
	base, cancel := context.WithCancel(context.Background())
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("gateway stopped")
		}
	}()

	// shut down when asked to or when the OBS session ends
	stop := s.stopCh
	srv := s.srv
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-stop:
		case <-s.session.Done():
			s.logger.Warn().Msg("obs session ended, stopping gateway")
		}
		cancel()
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(ctx)
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("gateway listening")
	return ln.Addr(), nil
}

// Stop shuts the server down and waits for it. Calling it twice is harmless.
func (s *Server) Stop() {
	s.mu.Lock()
	ch := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	if ch != nil {
		close(ch)
		s.wg.Wait()
	}
}

// Run serves until ctx ends or the session closes.
func (s *Server) Run(ctx context.Context, addr string) error {
	if _, err := s.Start(addr); err != nil {
		return err
	}
	defer s.Stop()
	select {
	case <-ctx.Done():
	case <-s.session.Done():
	}
	return nil
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http")
	}
}
