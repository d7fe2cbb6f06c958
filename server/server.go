package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/OkutaniDaichi0106/quicfeed/quic"
	"github.com/OkutaniDaichi0106/quicfeed/stream"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrServerClosed is returned by Listen and Serve after Close.
	ErrServerClosed = errors.New("server: server closed")

	errNotListening = errors.New("server: not listening")
)

// Server runs one Loop per shard. All shards listen on the same address
// and share one Pair.
type Server struct {
	/*
	 * Server configuration
	 */
	Config *Config

	/*
	 * Pair shared by every shard
	 */
	Pair *stream.Pair

	/*
	 * TLS configuration handed to every engine
	 */
	TLS quic.TLSProvider

	/*
	 * Engine factory
	 */
	NewEngine quic.EngineFactory

	/*
	 * Egress failure hook
	 */
	OnEgressError func(dest net.Addr, err error)

	/*
	 * Logger
	 */
	Logger *slog.Logger

	Metrics *Metrics

	mu    sync.Mutex
	loops []*Loop

	inShutdown atomic.Bool
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (s *Server) config() *Config {
	if s.Config != nil {
		return s.Config
	}
	return &Config{}
}

// Shards returns the number of loops Listen creates: the configured count,
// one per CPU when unset, and always one where the port cannot be shared.
func (s *Server) Shards() int {
	if !reusePortSupported {
		return 1
	}
	if shards := s.config().Listen.Shards; shards > 0 {
		return shards
	}
	return runtime.GOMAXPROCS(0)
}

// Listen opens the sockets of every shard and creates their loops.
func (s *Server) Listen(ctx context.Context) error {
	if s.inShutdown.Load() {
		return ErrServerClosed
	}
	if s.Pair == nil {
		return errNoPair
	}

	config := s.config()
	shards := s.Shards()
	logger := s.logger()

	if configured := config.Listen.Shards; configured > shards {
		logger.Warn("port sharing is not supported on this platform, using a single shard",
			"shards", configured,
		)
	}

	metrics := s.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	lc := listenConfig(shards)
	addr := config.Listen.Addr()

	loops := make([]*Loop, 0, shards)
	closeAll := func() {
		for _, l := range loops {
			_ = l.Close()
		}
	}

	for i := 0; i < shards; i++ {
		conn, err := lc.ListenPacket(ctx, "udp", addr)
		if err != nil {
			closeAll()
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}

		// Shards after the first bind the port the first one got.
		if i == 0 {
			if udpAddr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
				addr = net.JoinHostPort(config.Listen.Address, strconv.Itoa(udpAddr.Port))
			}
		}

		l, err := NewLoop(conn, s.Pair, LoopOptions{
			Config:        config,
			NewEngine:     s.NewEngine,
			TLS:           s.TLS,
			OnEgressError: s.OnEgressError,
			Logger:        logger.With("shard", i),
			Metrics:       metrics,
		})
		if err != nil {
			_ = conn.Close()
			closeAll()
			return fmt.Errorf("failed to create loop for shard %d: %w", i, err)
		}

		loops = append(loops, l)
	}

	s.mu.Lock()
	s.loops = loops
	s.mu.Unlock()

	logger.Info("listening",
		"address", loops[0].LocalAddr(),
		"shards", shards,
	)

	return nil
}

// Addr returns the address the shards listen on, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.loops) == 0 {
		return nil
	}
	return s.loops[0].LocalAddr()
}

// Serve runs every loop until ctx is done or a loop fails, then closes them.
func (s *Server) Serve(ctx context.Context) error {
	if s.inShutdown.Load() {
		return ErrServerClosed
	}

	s.mu.Lock()
	loops := s.loops
	s.mu.Unlock()

	if len(loops) == 0 {
		return errNotListening
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range loops {
		g.Go(func() error {
			return l.Serve(gctx)
		})
	}

	err := g.Wait()

	if cerr := s.Close(); err == nil {
		err = cerr
	}

	return err
}

// ListenAndServe listens and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Close closes every loop. Serve must have returned or not been called.
func (s *Server) Close() error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	loops := s.loops
	s.loops = nil
	s.mu.Unlock()

	var errs []error
	for _, l := range loops {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(loops) > 0 {
		s.logger().Info("server closed")
	}

	return errors.Join(errs...)
}
