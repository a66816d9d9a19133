package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/insajin/cs-mcp-bridge/internal/config"
	"github.com/insajin/cs-mcp-bridge/internal/logger"
	"github.com/insajin/cs-mcp-bridge/internal/mcpserver"
	"github.com/insajin/cs-mcp-bridge/internal/metrics"
	"github.com/insajin/cs-mcp-bridge/internal/teamserver"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// runServe는 팀 서버에 로그인하고 MCP 서버를 시작합니다.
func runServe(cmd *cobra.Command, args []string) error {
	if showEnv {
		printEnv(cmd.OutOrStdout())
		return nil
	}

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	client, srv, err := connect(ctx, cfg, log, m)
	if err != nil {
		log.Error().Err(err).Msg("MCP 서버 준비 실패")
		return err
	}
	defer client.Close()
	defer func() {
		if err := srv.Stop(); err != nil {
			log.Warn().Err(err).Msg("MCP 서버 중지 실패")
		}
		logSnapshot(log, m)
	}()

	log.Info().
		Str("transport", cfg.MCP.Transport).
		Str("listen", fmt.Sprintf("%s:%d", cfg.MCP.ListenHost, cfg.MCP.ListenPort)).
		Str("path", cfg.MCP.ListenPath).
		Msg("MCP 서버 준비 완료")

	return srv.Run(ctx, mcpserver.RunOptions{
		Transport:   cfg.MCP.Transport,
		Host:        cfg.MCP.ListenHost,
		Port:        cfg.MCP.ListenPort,
		Path:        cfg.MCP.ListenPath,
		LogLevel:    cfg.MCP.LogLevel,
		MetricsPath: cfg.MCP.MetricsPath,
	})
}

// connect는 팀 서버에 인증하고 도구/리소스가 등록된 Server를 생성합니다.
// 실패하면 클라이언트를 닫고 오류를 반환합니다.
func connect(ctx context.Context, cfg *config.Config, log zerolog.Logger, m *metrics.Metrics) (*teamserver.Client, *mcpserver.Server, error) {
	if !cfg.API.VerifyTLS {
		log.Warn().Str("base_url", cfg.API.BaseURL).Msg("TLS 인증서 검증이 비활성화되었습니다")
	}

	client := teamserver.NewClient(teamserver.Options{
		BaseURL:   cfg.API.BaseURL,
		VerifyTLS: cfg.API.VerifyTLS,
		Timeout:   cfg.API.Timeout(),
		Logger:    logger.Component(log, "teamserver"),
		Recorder:  m,
	})

	if _, err := client.Authenticate(ctx, cfg.API.Username, cfg.API.Password, cfg.API.DurationMs, cfg.API.LoginPath); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("팀 서버 인증 실패: %w", err)
	}

	// 세션 토큰 갱신 프로토콜은 없습니다. 만료되면 재시작해야 합니다.
	expiresAt := time.Now().Add(time.Duration(cfg.API.DurationMs) * time.Millisecond)
	log.Warn().
		Time("expires_at", expiresAt).
		Msg("세션 토큰은 자동 갱신되지 않습니다. 만료 후에는 브릿지를 재시작하세요")

	srv := mcpserver.NewServer(client, mcpserver.Options{
		Name:         cfg.MCP.ServerName,
		Version:      appVersion,
		Instructions: cfg.MCP.Instructions,
		LoginPath:    cfg.API.LoginPath,
		CacheTTL:     cfg.MCP.CacheTTL,
		Logger:       log,
		Metrics:      m,
	})
	if _, err := srv.CreateServer(ctx, cfg.API.SpecURL); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("MCP 서버 생성 실패: %w", err)
	}
	return client, srv, nil
}

// logSnapshot은 종료 시 브릿지 통계를 기록합니다.
func logSnapshot(log zerolog.Logger, m *metrics.Metrics) {
	s := m.Snapshot()
	log.Info().
		Str("uptime", s.Uptime).
		Int64("tool_calls", s.ToolCalls).
		Int64("tool_errors", s.ToolErrors).
		Int64("resource_reads", s.ResourceReads).
		Int64("resource_errors", s.ResourceErrors).
		Int64("upstream_requests", s.UpstreamRequests).
		Int64("upstream_failures", s.UpstreamFailures).
		Float64("avg_upstream_latency_ms", s.AvgLatencyMs).
		Msg("브릿지 통계")
}
