package grpc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/alexandernizov/accounts/internal/pkg/logger/sl"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health check name reported for the account service.
const ServiceName = "accounts.v1.Accounts"

var (
	ErrServerIsAlreadyRunning = errors.New("server is already running")
)

// Checker reports whether a dependency of the service is reachable.
type Checker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	log *slog.Logger

	addr          string
	checker       Checker
	checkInterval time.Duration

	server *grpc.Server
	health *health.Server

	mu        sync.Mutex
	isRunning bool
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewServer(log *slog.Logger, options ...func(*Server)) *Server {
	s := &Server{log: log, checkInterval: 5 * time.Second}
	for _, option := range options {
		option(s)
	}
	return s
}

func WithAddr(addr string) func(*Server) {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithChecker makes the reported status follow c. Without a checker the
// service is SERVING for as long as the server runs.
func WithChecker(c Checker, interval time.Duration) func(*Server) {
	return func(s *Server) {
		s.checker = c
		if interval > 0 {
			s.checkInterval = interval
		}
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	const op = "grpc.Start"

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.log.Error("can't make listener", slog.String("op", op), sl.Err(err))
		return err
	}
	return s.Serve(listener)
}

// Serve serves on lis in the background.
func (s *Server) Serve(lis net.Listener) error {
	const op = "grpc.Serve"
	log := s.log.With(slog.String("op", op))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		log.Error("can't start server", sl.Err(ErrServerIsAlreadyRunning))
		return ErrServerIsAlreadyRunning
	}

	s.server = grpc.NewServer(
		grpc.ChainUnaryInterceptor(unaryLoggingInterceptor(s.log)),
		grpc.ChainStreamInterceptor(streamLoggingInterceptor(s.log)),
	)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)

	s.done = make(chan struct{})
	s.isRunning = true
	s.check()

	if s.checker != nil {
		s.wg.Add(1)
		go s.watch()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Error("error with grpc serve listener", sl.Err(err))
		}
	}()

	log.Info("grpc server is running", slog.String("addr", lis.Addr().String()))

	return nil
}

func (s *Server) watch() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *Server) check() {
	status := healthpb.HealthCheckResponse_SERVING

	if s.checker != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.checkInterval)
		err := s.checker.Ping(ctx)
		cancel()
		if err != nil {
			s.log.Warn("dependency check failed", sl.Err(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) Stop() {
	const op = "grpc.Stop"
	log := s.log.With(slog.String("op", op))

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	log.Info("grpc is stopping")

	close(s.done)
	s.health.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	s.isRunning = false
}
