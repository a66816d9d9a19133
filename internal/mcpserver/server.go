// Package mcpserver는 팀 서버 API를 MCP 서버로 노출합니다.
// OpenAPI 문서에서 생성한 도구, 데이터 뷰 리소스, 분석 프롬프트를 하나의
// mcp-go 서버에 등록하고 stdio, HTTP, SSE 트랜스포트로 실행합니다.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/insajin/cs-mcp-bridge/internal/config"
	"github.com/insajin/cs-mcp-bridge/internal/logger"
	"github.com/insajin/cs-mcp-bridge/internal/metrics"
	"github.com/insajin/cs-mcp-bridge/internal/openapitool"
	"github.com/insajin/cs-mcp-bridge/internal/teamserver"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

const (
	// ServerVersion은 MCP initialize 응답에 포함되는 서버 버전입니다.
	ServerVersion = "1.0.0"
	// DefaultCacheTTL은 데이터 뷰 캐시의 기본 TTL입니다.
	DefaultCacheTTL = 30 * time.Second
	// DefaultSpecPath는 팀 서버 OpenAPI 문서의 기본 경로입니다.
	DefaultSpecPath = "/v3/api-docs"
	// DefaultLoginPath는 팀 서버 로그인 엔드포인트의 기본 경로입니다.
	DefaultLoginPath = "/api/auth/login"

	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// DefaultTags는 생성된 모든 도구에 붙는 서버 태그입니다.
var DefaultTags = []string{"openapi", "cobalt-strike"}

var (
	// ErrNotCreated는 CreateServer 전에 Run/Stop을 호출한 경우입니다.
	ErrNotCreated = errors.New("MCP 서버가 생성되지 않았습니다. CreateServer를 먼저 호출하세요")
	// ErrInvalidState는 현재 상태에서 허용되지 않는 호출입니다.
	ErrInvalidState = errors.New("현재 서버 상태에서 허용되지 않는 작업입니다")
)

// State는 서버 수명 주기 상태입니다.
type State int

const (
	StateUninitialized State = iota
	StateCreated
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options는 MCP 서버 생성 옵션입니다.
type Options struct {
	Name         string
	Version      string
	Instructions string
	// Tags는 모든 도구의 _meta.tags에 추가됩니다. nil이면 DefaultTags를 사용합니다.
	Tags []string
	// RouteMaps가 nil이면 openapitool.DefaultRouteMaps()를 사용합니다.
	RouteMaps []openapitool.RouteMap
	// LoginPath는 server-info 리소스에 표시할 로그인 경로입니다.
	LoginPath string
	CacheTTL  time.Duration
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// RunOptions는 트랜스포트 실행 옵션입니다.
type RunOptions struct {
	Transport string
	Host      string
	Port      int
	Path      string
	// LogLevel이 설정되면 HTTP 트랜스포트 로거의 레벨을 덮어씁니다.
	LogLevel string
	// MetricsPath가 설정되면 HTTP 트랜스포트에서 Prometheus 메트릭을 제공합니다.
	MetricsPath string

	// stdio 트랜스포트의 입출력입니다. nil이면 os.Stdin/os.Stdout을 사용합니다.
	Stdin  io.Reader
	Stdout io.Writer

	// Listener가 설정되면 Host/Port 대신 이 리스너에서 HTTP를 제공합니다.
	Listener net.Listener
}

// Server는 팀 서버 세션 위에 MCP 서버를 구성하고 실행합니다.
// 상태 전이: Uninitialized → Created → Running → Stopped.
type Server struct {
	client  *teamserver.Client
	opts    Options
	cache   *Cache
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu        sync.Mutex
	state     State
	mcpServer *server.MCPServer
	tools     *openapitool.Result
	cancel    context.CancelFunc
}

// NewServer는 인증된(또는 인증 예정인) 팀 서버 클라이언트로 Server를 생성합니다.
func NewServer(client *teamserver.Client, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = config.DefaultServerName
	}
	if opts.Version == "" {
		opts.Version = ServerVersion
	}
	if opts.Tags == nil {
		opts.Tags = DefaultTags
	}
	if opts.RouteMaps == nil {
		opts.RouteMaps = openapitool.DefaultRouteMaps()
	}
	if opts.LoginPath == "" {
		opts.LoginPath = DefaultLoginPath
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	return &Server{
		client:  client,
		opts:    opts,
		cache:   NewCache(opts.CacheTTL),
		metrics: m,
		logger:  opts.Logger.With().Str("component", "mcpserver").Logger(),
	}
}

// State는 현재 수명 주기 상태를 반환합니다.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MCPServer는 생성된 mcp-go 서버를 반환합니다. 생성 전이거나 Stop 이후에는 nil입니다.
func (s *Server) MCPServer() *server.MCPServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mcpServer
}

// Tools는 마지막 CreateServer에서 생성된 도구 목록을 반환합니다.
func (s *Server) Tools() *openapitool.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tools
}

// Metrics는 서버 메트릭을 반환합니다.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// CreateServer는 OpenAPI 문서를 가져와 도구, 리소스, 프롬프트가 등록된 MCP 서버를 만듭니다.
// Uninitialized 또는 Stopped 상태에서만 호출할 수 있으며 클라이언트는 인증되어 있어야 합니다.
func (s *Server) CreateServer(ctx context.Context, specPath string) (*server.MCPServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized && s.state != StateStopped {
		return nil, fmt.Errorf("CreateServer 호출 불가 (상태: %s): %w", s.state, ErrInvalidState)
	}
	if s.client == nil || !s.client.IsAuthenticated() {
		return nil, teamserver.ErrNotAuthenticated
	}
	if specPath == "" {
		specPath = DefaultSpecPath
	}

	s.logger.Info().Str("spec_path", specPath).Msg("OpenAPI 문서 조회")
	doc, err := s.client.FetchSpec(ctx, specPath)
	if err != nil {
		return nil, err
	}

	session, err := s.client.AuthenticatedClient()
	if err != nil {
		return nil, fmt.Errorf("인증된 세션 획득 실패: %w", err)
	}

	mcpServer := server.NewMCPServer(
		s.opts.Name,
		s.opts.Version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithPromptCapabilities(false),
		server.WithRecovery(),
		server.WithLogging(),
		server.WithInstructions(s.opts.Instructions),
		server.WithToolHandlerMiddleware(s.toolMetrics),
	)

	tools, err := openapitool.Build(doc, session, openapitool.Options{
		Tags:      s.opts.Tags,
		RouteMaps: s.opts.RouteMaps,
		Logger:    s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("도구 생성 실패: %w", err)
	}
	tools.Register(mcpServer)

	views := &dataViews{
		getter:     session,
		baseURL:    s.client.BaseURL(),
		specPath:   specPath,
		loginPath:  s.opts.LoginPath,
		serverName: s.opts.Name,
		version:    s.opts.Version,
		cache:      s.cache,
		metrics:    s.metrics,
		logger:     s.logger,
	}
	views.register(mcpServer)
	registerPrompts(mcpServer, s.metrics, s.logger)

	s.mcpServer = mcpServer
	s.tools = tools
	s.state = StateCreated

	s.logger.Info().
		Str("name", s.opts.Name).
		Int("tools", len(tools.Generated)).
		Int("excluded", len(tools.Excluded)).
		Msg("MCP 서버 생성 완료")

	return mcpServer, nil
}

// Run은 지정한 트랜스포트로 MCP 서버를 실행합니다.
// ctx가 취소되거나 Stop이 호출될 때까지 블로킹됩니다.
func (s *Server) Run(ctx context.Context, opts RunOptions) error {
	s.mu.Lock()
	switch s.state {
	case StateCreated:
	case StateRunning:
		s.mu.Unlock()
		return fmt.Errorf("이미 실행 중입니다: %w", ErrInvalidState)
	default:
		s.mu.Unlock()
		return ErrNotCreated
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateRunning
	mcpServer := s.mcpServer
	s.mu.Unlock()
	defer cancel()

	transport := s.resolveTransport(opts.Transport)
	path := NormalizePath(opts.Path)
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	if opts.Listener != nil {
		addr = opts.Listener.Addr().String()
	}

	var err error
	switch transport {
	case config.TransportStdio:
		s.logger.Info().Str("name", s.opts.Name).Msg("stdio 트랜스포트로 MCP 서버 시작")
		err = s.serveStdio(ctx, mcpServer, opts)
	case config.TransportSSE:
		s.logger.Info().
			Str("name", s.opts.Name).
			Str("url", fmt.Sprintf("http://%s%s", addr, path)).
			Msg("sse 트랜스포트로 MCP 서버 시작")
		err = s.serveSSE(ctx, mcpServer, addr, path, opts)
	default:
		s.logger.Info().
			Str("name", s.opts.Name).
			Str("transport", transport).
			Str("url", fmt.Sprintf("http://%s%s", addr, path)).
			Msg("HTTP 트랜스포트로 MCP 서버 시작")
		err = s.serveStreamable(ctx, mcpServer, addr, path, opts)
	}

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error().Err(err).Str("transport", transport).Msg("MCP 서버 오류")
		return fmt.Errorf("MCP 서버 실행 실패: %w", err)
	}
	s.logger.Info().Str("transport", transport).Msg("MCP 서버 트랜스포트 종료")
	return nil
}

// Stop은 서버를 Stopped 상태로 전환하고 실행 중인 트랜스포트를 종료합니다.
// 이미 Stopped이면 아무 작업도 하지 않습니다. 팀 서버 클라이언트는 닫지 않습니다.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUninitialized:
		return ErrNotCreated
	case StateStopped:
		return nil
	}

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mcpServer = nil
	s.state = StateStopped
	s.logger.Info().Msg("MCP 서버 중지")
	return nil
}

// resolveTransport는 알 수 없는 트랜스포트를 http로 대체합니다.
func (s *Server) resolveTransport(transport string) string {
	t := strings.ToLower(strings.TrimSpace(transport))
	if t == "" {
		return config.TransportHTTP
	}
	if !config.IsValidTransport(t) {
		s.logger.Warn().
			Str("transport", transport).
			Str("fallback", config.TransportHTTP).
			Msg("알 수 없는 트랜스포트, http로 대체")
		return config.TransportHTTP
	}
	return t
}

// toolMetrics는 도구 호출 수와 실패 수를 기록하는 미들웨어입니다.
func (s *Server) toolMetrics(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		s.metrics.ToolCalls.Add(1)

		result, err := next(ctx, req)

		failed := err != nil || (result != nil && result.IsError)
		if failed {
			s.metrics.ToolErrors.Add(1)
		}
		s.logger.Debug().
			Str("tool", req.Params.Name).
			Dur("elapsed", time.Since(start)).
			Bool("failed", failed).
			Msg("도구 호출 완료")
		return result, err
	}
}

func (s *Server) serveStdio(ctx context.Context, mcpServer *server.MCPServer, opts RunOptions) error {
	in := opts.Stdin
	if in == nil {
		in = os.Stdin
	}
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(s.logger, "", 0))
	return stdio.Listen(ctx, in, out)
}

func (s *Server) serveStreamable(ctx context.Context, mcpServer *server.MCPServer, addr, path string, opts RunOptions) error {
	mux := http.NewServeMux()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	streamable := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath(path),
		server.WithLogger(logger.NewPrintf(s.transportLogger(opts.LogLevel))),
		server.WithStreamableHTTPServer(httpServer),
	)
	mux.Handle(path, streamable)
	s.mountMetrics(mux, opts.MetricsPath, path)

	return s.serveHTTP(ctx, httpServer, opts.Listener, streamable.Shutdown)
}

func (s *Server) serveSSE(ctx context.Context, mcpServer *server.MCPServer, addr, path string, opts RunOptions) error {
	httpServer := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	sse := server.NewSSEServer(mcpServer,
		server.WithBaseURL("http://"+addr),
		server.WithSSEEndpoint(path),
		server.WithMessageEndpoint(messagePath(path)),
		server.WithKeepAlive(true),
		server.WithHTTPServer(httpServer),
	)
	mux := http.NewServeMux()
	mux.Handle("/", sse)
	s.mountMetrics(mux, opts.MetricsPath, path, messagePath(path))
	httpServer.Handler = mux

	tl := s.transportLogger(opts.LogLevel)
	tl.Debug().
		Str("sse", path).
		Str("messages", messagePath(path)).
		Msg("SSE 엔드포인트 구성")

	return s.serveHTTP(ctx, httpServer, opts.Listener, sse.Shutdown)
}

// mountMetrics는 metricsPath에 Prometheus 핸들러를 등록합니다.
// 경로가 비어있거나 MCP 엔드포인트와 겹치면 등록하지 않습니다.
func (s *Server) mountMetrics(mux *http.ServeMux, metricsPath string, reserved ...string) {
	if strings.TrimSpace(metricsPath) == "" {
		return
	}
	p := NormalizePath(metricsPath)
	for _, r := range append(reserved, "/") {
		if p == r {
			s.logger.Warn().Str("metrics_path", p).Msg("메트릭 경로가 MCP 엔드포인트와 겹쳐 비활성화합니다")
			return
		}
	}
	mux.Handle(p, metrics.Handler(s.metrics))
	s.logger.Debug().Str("metrics_path", p).Msg("Prometheus 메트릭 엔드포인트 등록")
}

// serveHTTP는 ctx가 취소될 때까지 HTTP 서버를 실행하고 shutdown으로 정리합니다.
func (s *Server) serveHTTP(ctx context.Context, httpServer *http.Server, listener net.Listener, shutdown func(context.Context) error) error {
	errCh := make(chan error, 1)
	go func() {
		if listener != nil {
			errCh <- httpServer.Serve(listener)
			return
		}
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP 서버 종료 실패")
		}
		<-errCh
		return nil
	}
}

func (s *Server) transportLogger(level string) zerolog.Logger {
	l := s.logger.With().Str("component", "transport").Logger()
	if level != "" {
		l = l.Level(logger.ParseLevel(level))
	}
	return l
}

// NormalizePath는 경로를 선행 슬래시가 있고 후행 슬래시가 없는 형태로 만듭니다.
// 루트 경로와 빈 경로는 "/"가 됩니다.
func NormalizePath(path string) string {
	p := strings.TrimSpace(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

func messagePath(path string) string {
	if path == "/" {
		return "/messages"
	}
	return path + "/messages"
}
