// Package server exposes the rule compiler and VM as a network service
// (Connect over HTTP and gRPC), a Prometheus endpoint and a language server.
package server

import (
	"errors"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
)

var log = commonlog.GetLogger("jary.server")

// RuleServer serves the rule service. Connect (HTTP/JSON) and the metrics
// endpoint share one HTTP handler; gRPC has its own server.
type RuleServer struct {
	worker   *Worker
	programs *ProgramStore
	metrics  *Metrics
	service  *RuleService
	mux      *http.ServeMux
	grpc     *grpc.Server
	http     *http.Server

	stopSweeper func()
}

// ServerOption configures a RuleServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	workers    int
	metrics    bool
	programTTL time.Duration
}

// WithWorkers sets how many evaluations may run at once.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// WithMetrics serves Prometheus metrics at /metrics.
func WithMetrics(enabled bool) ServerOption {
	return func(c *serverConfig) { c.metrics = enabled }
}

// WithProgramTTL sets how long an unused compiled program is held.
func WithProgramTTL(ttl time.Duration) ServerOption {
	return func(c *serverConfig) { c.programTTL = ttl }
}

// New creates a RuleServer over rt.
func New(rt *Runtime, opts ...ServerOption) *RuleServer {
	cfg := &serverConfig{workers: 4, programTTL: 30 * time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}

	programs := NewProgramStore()
	s := &RuleServer{
		worker:   NewWorker(rt, cfg.workers),
		programs: programs,
		metrics:  NewMetrics(programs.Len),
		mux:      http.NewServeMux(),
		grpc:     grpc.NewServer(),
	}
	s.service = NewRuleService(s.worker, programs, s.metrics)

	s.mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, s.service.Compile))
	s.mux.Handle(EvaluateProcedure, connect.NewUnaryHandler(EvaluateProcedure, s.service.Evaluate))
	if cfg.metrics {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
	s.service.RegisterGRPC(s.grpc)

	if cfg.programTTL > 0 {
		interval := cfg.programTTL / 6
		if interval <= 0 {
			interval = cfg.programTTL
		}
		s.stopSweeper = programs.StartSweeper(interval, cfg.programTTL)
	}
	return s
}

// Handler returns the HTTP handler serving Connect and metrics.
func (s *RuleServer) Handler() http.Handler {
	return s.mux
}

// Service returns the rule service.
func (s *RuleServer) Service() *RuleService {
	return s.service
}

// ListenAndServe serves Connect on httpAddr and, when grpcAddr is not
// empty, gRPC on grpcAddr. It returns when either server fails.
func (s *RuleServer) ListenAndServe(httpAddr, grpcAddr string) error {
	errc := make(chan error, 2)
	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return err
		}
		log.Noticef("gRPC listening on %s", lis.Addr())
		go func() { errc <- s.grpc.Serve(lis) }()
	}

	s.http = &http.Server{Addr: httpAddr, Handler: s.mux}
	log.Noticef("Connect listening on http://%s%s", httpAddr, EvaluateProcedure)
	go func() { errc <- s.http.ListenAndServe() }()

	err := <-errc
	if errors.Is(err, http.ErrServerClosed) || errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// ServeGRPC serves gRPC on lis until Stop.
func (s *RuleServer) ServeGRPC(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop shuts down the server.
func (s *RuleServer) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	if s.http != nil {
		s.http.Close()
	}
	s.grpc.Stop()
	s.worker.Stop()
}
