// Package config는 cs-mcp 브릿지의 설정 관리를 담당합니다.
// 설정 우선순위: 플래그 > 환경변수 > 설정파일 > 기본값
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 기본 설정값
const (
	DefaultBaseURL     = "https://localhost:50443"
	DefaultSpecURL     = "/v3/api-docs"
	DefaultLoginPath   = "/api/auth/login"
	DefaultDurationMs  = int64(86_400_000)
	DefaultHTTPTimeout = 30.0
	DefaultTransport   = "http"
	DefaultListenHost  = "127.0.0.1"
	DefaultListenPort  = 3000
	DefaultListenPath  = "/mcp"
	DefaultServerName  = "Cobalt Strike API"
	DefaultCacheTTL    = 30 * time.Second
	DefaultMetricsPath = "/metrics"
)

// DefaultInstructions는 MCP 클라이언트에게 전달되는 기본 운영 지침입니다.
const DefaultInstructions = `You are a cybersecurity operations assistant connected to an MCP server that fronts a live Cobalt Strike team server. The server exposes the team server REST API as tools for managing and tasking beacons, automating common red team workflows and retrieving results.

Behavior:
- Confirm a beacon exists before issuing a task to it.
- Pass complete, valid arguments to every tool.
- Ask clarifying questions when the operator's input is incomplete.
- Only report beacon output that was actually returned by the server.
- Present results concisely, for example as tables or short summaries.
`

// 지원하는 MCP 트랜스포트
const (
	TransportHTTP           = "http"
	TransportStreamableHTTP = "streamable-http"
	TransportSSE            = "sse"
	TransportStdio          = "stdio"
)

// Transports는 지원하는 트랜스포트 목록입니다.
var Transports = []string{TransportHTTP, TransportStreamableHTTP, TransportSSE, TransportStdio}

// Config는 전체 애플리케이션 설정을 나타냅니다.
type Config struct {
	API     APIConfig     `mapstructure:"api" yaml:"api"`
	MCP     MCPConfig     `mapstructure:"mcp" yaml:"mcp"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// APIConfig는 팀 서버 REST API 연결 설정입니다.
type APIConfig struct {
	// BaseURL은 팀 서버 REST API의 기본 URL입니다.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// SpecURL은 OpenAPI 문서 경로입니다.
	SpecURL string `mapstructure:"spec_url" yaml:"spec_url"`
	// LoginPath는 인증 엔드포인트 경로입니다.
	LoginPath string `mapstructure:"login_path" yaml:"login_path"`
	Username  string `mapstructure:"username" yaml:"username"`
	Password  string `mapstructure:"password" yaml:"password"`
	// DurationMs는 요청할 세션 유효 기간(밀리초)입니다.
	DurationMs int64 `mapstructure:"duration_ms" yaml:"duration_ms"`
	// HTTPTimeout은 HTTP 요청 타임아웃(초)입니다.
	HTTPTimeout float64 `mapstructure:"http_timeout" yaml:"http_timeout"`
	// VerifyTLS가 false이면 인증서 검증을 건너뜁니다.
	VerifyTLS bool `mapstructure:"verify_tls" yaml:"verify_tls"`
}

// Timeout은 HTTPTimeout을 time.Duration으로 변환합니다.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.HTTPTimeout * float64(time.Second))
}

// MCPConfig는 MCP 서버 설정입니다.
type MCPConfig struct {
	Transport    string `mapstructure:"transport" yaml:"transport"`
	ListenHost   string `mapstructure:"listen_host" yaml:"listen_host"`
	ListenPort   int    `mapstructure:"listen_port" yaml:"listen_port"`
	ListenPath   string `mapstructure:"listen_path" yaml:"listen_path"`
	ServerName   string `mapstructure:"server_name" yaml:"server_name"`
	Instructions string `mapstructure:"instructions" yaml:"instructions"`
	// LogLevel은 HTTP 트랜스포트 로그 레벨을 덮어씁니다. 비어있으면 애플리케이션 레벨을 따릅니다.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	// CacheTTL은 데이터 뷰 폴백 캐시의 유효 기간입니다.
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	// MetricsPath는 HTTP 트랜스포트의 Prometheus 엔드포인트 경로입니다. 비어있으면 비활성화합니다.
	MetricsPath string `mapstructure:"metrics_path" yaml:"metrics_path"`
}

// LoggingConfig는 로깅 설정입니다.
type LoggingConfig struct {
	// Level은 로그 레벨입니다 (debug, info, warn, error).
	Level string `mapstructure:"level" yaml:"level"`
	// Format은 로그 포맷입니다 (json, text).
	Format string `mapstructure:"format" yaml:"format"`
	// File은 로그 파일 경로입니다. 비어있으면 stderr로 출력합니다.
	File string `mapstructure:"file" yaml:"file"`
}

// EnvVar는 설정 키와 환경변수의 매핑입니다.
type EnvVar struct {
	Key         string
	Env         string
	Description string
	Default     any
}

// EnvVars는 지원하는 모든 환경변수 목록입니다.
// show-env 출력, viper 바인딩, 기본값 설정에 공통으로 사용됩니다.
var EnvVars = []EnvVar{
	{"api.base_url", "CS_API_BASE_URL", "Base URL for the team server REST API", DefaultBaseURL},
	{"api.spec_url", "CS_API_SPEC_URL", "OpenAPI document URL path", DefaultSpecURL},
	{"api.login_path", "CS_API_LOGIN_PATH", "Authentication endpoint path", DefaultLoginPath},
	{"api.username", "CS_API_USERNAME", "Team server username (required)", ""},
	{"api.password", "CS_API_PASSWORD", "Team server password (required)", ""},
	{"api.duration_ms", "CS_API_DURATION_MS", "Session duration in milliseconds", DefaultDurationMs},
	{"api.http_timeout", "CS_API_HTTP_TIMEOUT", "HTTP request timeout in seconds", DefaultHTTPTimeout},
	{"api.verify_tls", "CS_API_VERIFY_TLS", "Enable TLS certificate verification", true},
	{"mcp.transport", "MCP_TRANSPORT", "MCP transport (http, streamable-http, sse, stdio)", DefaultTransport},
	{"mcp.listen_host", "MCP_LISTEN_HOST", "Host interface to bind the server to", DefaultListenHost},
	{"mcp.listen_port", "MCP_LISTEN_PORT", "Port to bind the server to", DefaultListenPort},
	{"mcp.listen_path", "MCP_LISTEN_PATH", "URL path for the MCP endpoint", DefaultListenPath},
	{"mcp.server_name", "MCP_SERVER_NAME", "Name displayed to MCP clients", DefaultServerName},
	{"mcp.instructions", "MCP_SERVER_INSTRUCTIONS", "Instructions for MCP clients", DefaultInstructions},
	{"mcp.log_level", "MCP_LOG_LEVEL", "Log level override for the HTTP transport", ""},
	{"mcp.cache_ttl", "MCP_CACHE_TTL", "Fallback cache TTL for data views", DefaultCacheTTL.String()},
	{"mcp.metrics_path", "MCP_METRICS_PATH", "Prometheus metrics path on HTTP transports (empty disables)", DefaultMetricsPath},
	{"logging.level", "LOG_LEVEL", "Application log level", "info"},
	{"logging.format", "LOG_FORMAT", "Log format (json, text)", "json"},
	{"logging.file", "LOG_FILE", "Log file path (default: stderr)", ""},
}

// SetDefaults는 viper 인스턴스에 기본값과 환경변수 바인딩을 설정합니다.
func SetDefaults(v *viper.Viper) error {
	for _, e := range EnvVars {
		v.SetDefault(e.Key, e.Default)
		if err := v.BindEnv(e.Key, e.Env); err != nil {
			return fmt.Errorf("환경변수 바인딩 실패 (%s): %w", e.Env, err)
		}
	}
	return nil
}

// Load는 viper 인스턴스에서 설정을 읽어 Config 구조체를 반환합니다.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToBoolHook(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("설정 파싱 실패: %w", err)
	}

	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.MCP.Transport = strings.ToLower(strings.TrimSpace(cfg.MCP.Transport))

	return &cfg, nil
}

// Validate는 설정의 유효성을 검사합니다.
func (c *Config) Validate() error {
	var errs []error

	if c.API.Username == "" {
		errs = append(errs, errors.New("사용자 이름이 필요합니다 (--username 또는 CS_API_USERNAME)"))
	}
	if c.API.Password == "" {
		errs = append(errs, errors.New("비밀번호가 필요합니다 (--password 또는 CS_API_PASSWORD)"))
	}
	if c.API.DurationMs <= 0 {
		errs = append(errs, fmt.Errorf("duration_ms는 양의 정수여야 합니다: %d", c.API.DurationMs))
	}
	if c.API.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("http_timeout은 양수여야 합니다: %v", c.API.HTTPTimeout))
	}
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("base_url이 비어있습니다"))
	}

	if !IsValidTransport(c.MCP.Transport) {
		errs = append(errs, fmt.Errorf("유효하지 않은 트랜스포트: %s (%s 중 하나)",
			c.MCP.Transport, strings.Join(Transports, ", ")))
	}
	if c.MCP.Transport != TransportStdio && (c.MCP.ListenPort < 1 || c.MCP.ListenPort > 65535) {
		errs = append(errs, fmt.Errorf("유효하지 않은 포트: %d (1-65535)", c.MCP.ListenPort))
	}
	if c.MCP.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("cache_ttl은 음수일 수 없습니다: %s", c.MCP.CacheTTL))
	}
	if c.MCP.LogLevel != "" && !validLevels[strings.ToLower(c.MCP.LogLevel)] {
		errs = append(errs, fmt.Errorf("유효하지 않은 MCP 로그 레벨: %s", c.MCP.LogLevel))
	}

	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Errorf("유효하지 않은 로그 레벨: %s (debug, info, warn, error 중 하나)", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, fmt.Errorf("유효하지 않은 로그 포맷: %s (json, text 중 하나)", c.Logging.Format))
	}

	return errors.Join(errs...)
}

var validLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// IsValidTransport는 지원하는 트랜스포트인지 확인합니다.
func IsValidTransport(transport string) bool {
	for _, t := range Transports {
		if t == transport {
			return true
		}
	}
	return false
}

// ParseBool은 환경변수 스타일의 불리언 문자열을 해석합니다.
// 1, true, yes, on (대소문자 무시)만 true이고 나머지는 모두 false입니다.
func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// stringToBoolHook은 문자열 값을 ParseBool 규칙으로 bool 필드에 디코딩합니다.
func stringToBoolHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
			return data, nil
		}
		s, _ := data.(string)
		return ParseBool(s), nil
	}
}

// LoadDotEnv는 .env 파일을 읽어 아직 설정되지 않은 환경변수만 채웁니다.
// 파일이 없으면 아무것도 하지 않습니다.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf(".env 파일 확인 실패: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf(".env 파일 읽기 실패: %w", err)
	}

	// viper는 키를 소문자로 저장하므로 환경변수 이름은 대문자로 복원합니다.
	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if _, exists := os.LookupEnv(name); exists {
			continue
		}
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return fmt.Errorf("환경변수 설정 실패 (%s): %w", name, err)
		}
	}
	return nil
}

// expandPath는 ~를 홈 디렉토리로 확장합니다.
func expandPath(path string) string {
	if path == "" {
		return ""
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// ConfigDir는 기본 설정 디렉토리 경로를 반환합니다.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "cs-mcp")
}

// EnsureConfigDir는 설정 디렉토리가 존재하는지 확인하고 없으면 생성합니다.
func EnsureConfigDir() error {
	dir := ConfigDir()
	if dir == "" {
		return errors.New("홈 디렉토리를 찾을 수 없습니다")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("설정 디렉토리 생성 실패: %w", err)
	}
	return nil
}

// DefaultConfigPath는 기본 설정 파일 경로를 반환합니다.
func DefaultConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Redacted는 비밀번호를 마스킹한 설정 복사본을 반환합니다.
func (c Config) Redacted() Config {
	if c.API.Password != "" {
		c.API.Password = "********"
	}
	return c
}
