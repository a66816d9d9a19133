// Package cmd는 cs-mcp CLI의 명령어를 정의합니다.
package cmd

import (
	"fmt"
	"os"

	"github.com/insajin/cs-mcp-bridge/internal/config"
	"github.com/insajin/cs-mcp-bridge/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// 전역 플래그
	cfgFile  string
	verbose  bool
	insecure bool
	showEnv  bool

	// 버전 정보 (main에서 주입)
	appVersion   string
	appCommit    string
	appBuildDate string
)

// rootCmd는 CLI의 루트 명령어입니다. 하위 명령 없이 실행하면 MCP 서버를 시작합니다.
var rootCmd = &cobra.Command{
	Use:   "cs-mcp",
	Short: "Cobalt Strike 팀 서버 REST API를 MCP 서버로 노출합니다",
	Long: `cs-mcp는 Cobalt Strike 팀 서버 REST API에 로그인한 뒤
OpenAPI 문서를 읽어 각 작업을 MCP 도구로 변환하고,
비콘/리스너/태스크 상태를 MCP 리소스로 제공합니다.

설정 우선순위: 플래그 > 환경변수 > 설정파일 > 기본값
지원하는 환경변수 목록은 'cs-mcp env' 또는 --show-env로 확인하세요.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute는 루트 명령어를 실행합니다.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo는 버전 정보를 설정합니다.
func SetVersionInfo(version, commit, buildDate string) {
	appVersion = version
	appCommit = commit
	appBuildDate = buildDate
}

// GetVersionInfo는 버전 정보를 반환합니다.
func GetVersionInfo() (version, commit, buildDate string) {
	return appVersion, appCommit, appBuildDate
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "설정 파일 경로 (기본값: ~/.config/cs-mcp/config.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "상세 로그 출력 (debug 레벨)")

	// 팀 서버 연결 플래그 (serve, tools 공통)
	pf.String("base-url", config.DefaultBaseURL, "팀 서버 REST API 기본 URL")
	pf.String("spec-url", config.DefaultSpecURL, "OpenAPI 문서 경로")
	pf.String("login-path", config.DefaultLoginPath, "인증 엔드포인트 경로")
	pf.String("username", "", "팀 서버 사용자 이름")
	pf.String("password", "", "팀 서버 비밀번호")
	pf.Int64("duration-ms", config.DefaultDurationMs, "요청할 세션 유효 기간(밀리초)")
	pf.Float64("http-timeout", config.DefaultHTTPTimeout, "HTTP 요청 타임아웃(초)")
	pf.Bool("verify-tls", true, "TLS 인증서 검증")
	pf.BoolVar(&insecure, "insecure", false, "TLS 인증서 검증을 건너뜁니다 (--verify-tls=false와 동일)")

	// MCP 서버 플래그
	f := rootCmd.Flags()
	f.String("transport", config.DefaultTransport, "MCP 트랜스포트 (http, streamable-http, sse, stdio)")
	f.String("listen-host", config.DefaultListenHost, "바인딩할 호스트")
	f.Int("listen-port", config.DefaultListenPort, "바인딩할 포트")
	f.String("listen-path", config.DefaultListenPath, "MCP 엔드포인트 경로")
	f.String("server-name", config.DefaultServerName, "MCP 클라이언트에 표시할 서버 이름")
	f.String("instructions", "", "MCP 클라이언트에 전달할 지침 (기본값: 내장 지침)")
	f.String("log-level", "", "HTTP 트랜스포트 로그 레벨")
	f.Duration("cache-ttl", config.DefaultCacheTTL, "데이터 뷰 폴백 캐시 유효 기간")
	f.String("metrics-path", config.DefaultMetricsPath, "Prometheus 메트릭 경로 (빈 값이면 비활성화)")
	f.BoolVar(&showEnv, "show-env", false, "지원하는 환경변수 목록을 출력하고 종료합니다")

	bindFlags(rootCmd, map[string]string{
		"api.base_url":     "base-url",
		"api.spec_url":     "spec-url",
		"api.login_path":   "login-path",
		"api.username":     "username",
		"api.password":     "password",
		"api.duration_ms":  "duration-ms",
		"api.http_timeout": "http-timeout",
		"api.verify_tls":   "verify-tls",
		"mcp.transport":    "transport",
		"mcp.listen_host":  "listen-host",
		"mcp.listen_port":  "listen-port",
		"mcp.listen_path":  "listen-path",
		"mcp.server_name":  "server-name",
		"mcp.instructions": "instructions",
		"mcp.log_level":    "log-level",
		"mcp.cache_ttl":    "cache-ttl",
		"mcp.metrics_path": "metrics-path",
	})
}

// bindFlags는 설정 키를 플래그에 바인딩합니다.
// 바인딩된 플래그는 명시적으로 지정된 경우에만 환경변수와 설정파일보다 우선합니다.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			flag = cmd.PersistentFlags().Lookup(name)
		}
		if flag == nil {
			continue
		}
		_ = viper.BindPFlag(key, flag)
	}
}

// initConfig는 .env, 설정 파일, 환경변수 바인딩을 초기화합니다.
func initConfig() {
	// .env는 이미 설정된 환경변수를 덮어쓰지 않습니다.
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if dir := config.ConfigDir(); dir != "" {
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := config.SetDefaults(viper.GetViper()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}

	// 설정 파일 읽기 (없어도 오류 아님)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "설정 파일 읽기 실패: %v\n", err)
		}
	}
}

// loadConfig는 현재 viper 상태에서 설정을 읽습니다.
// validate가 true이면 필수 값과 범위를 검사합니다.
func loadConfig(validate bool) (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if insecure {
		cfg.API.VerifyTLS = false
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("설정 오류:\n%w", err)
		}
	}
	return cfg, nil
}

// newLogger는 설정에 따라 애플리케이션 로거를 생성합니다.
func newLogger(cfg *config.Config) zerolog.Logger {
	return logger.New(cfg.Logging).With().
		Str("app", "cs-mcp").
		Str("version", appVersion).
		Logger()
}
