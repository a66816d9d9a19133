// Package logger는 구조화된 로깅을 제공합니다.
// 모든 출력은 민감 정보(세션 토큰, 비밀번호)를 마스킹한 뒤 기록됩니다.
package logger

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/insajin/cs-mcp-bridge/internal/config"
	"github.com/rs/zerolog"
)

// 민감 정보 패턴
var (
	// Bearer 토큰
	bearerPattern = regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-_\.]+`)
	// JWT 토큰 패턴 (eyJ로 시작하는 Base64)
	jwtPattern = regexp.MustCompile(`eyJ[a-zA-Z0-9\-_]+\.eyJ[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`)
	// JSON 본문 안의 비밀 필드 ("password":"...")
	jsonSecretPattern = regexp.MustCompile(`("(?:password|access_token|token|secret)"\s*:\s*")([^"]*)(")`)
	// 키-값 패턴 (password=, token: 등)
	keyValuePattern = regexp.MustCompile(`((?:password|passwd|access_token|token|secret)\s*[=:]\s*)([^\s&"',]{4,})`)
)

// maskedWriter는 민감 정보를 마스킹하는 io.Writer입니다.
type maskedWriter struct {
	underlying io.Writer
}

// Write는 민감 정보를 마스킹한 후 기록합니다.
// zerolog는 쓰기 길이를 확인하므로 원본 길이를 반환합니다.
func (w *maskedWriter) Write(p []byte) (int, error) {
	masked := MaskSensitive(string(p))
	if _, err := w.underlying.Write([]byte(masked)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// New는 설정에 따라 로거를 생성합니다.
// 기본 출력은 stderr입니다. stdout은 stdio MCP 트랜스포트가 사용합니다.
func New(cfg config.LoggingConfig) zerolog.Logger {
	var output io.Writer = os.Stderr
	var fileErr error
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			fileErr = err
		} else {
			output = file
		}
	}

	l := NewWithWriter(cfg, output)
	if fileErr != nil {
		l.Warn().Err(fileErr).Str("file", cfg.File).Msg("로그 파일을 열 수 없어 stderr를 사용합니다")
	}
	return l
}

// NewWithWriter는 지정된 Writer로 출력하는 로거를 생성합니다.
func NewWithWriter(cfg config.LoggingConfig, output io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	masked := &maskedWriter{underlying: output}

	var w io.Writer = masked
	if cfg.Format == "text" {
		w = zerolog.ConsoleWriter{
			Out:        masked,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		}
	}

	return zerolog.New(w).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel은 문자열 레벨을 zerolog.Level로 변환합니다.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// MaskSensitive는 문자열에서 민감 정보를 마스킹합니다.
func MaskSensitive(input string) string {
	result := bearerPattern.ReplaceAllStringFunc(input, func(match string) string {
		value := strings.TrimSpace(strings.TrimPrefix(match, "Bearer"))
		return "Bearer " + maskValue(value)
	})

	result = jwtPattern.ReplaceAllStringFunc(result, maskValue)

	result = jsonSecretPattern.ReplaceAllStringFunc(result, func(match string) string {
		parts := jsonSecretPattern.FindStringSubmatch(match)
		if parts[2] == "" {
			return match
		}
		return parts[1] + maskValue(parts[2]) + parts[3]
	})

	result = keyValuePattern.ReplaceAllStringFunc(result, func(match string) string {
		parts := keyValuePattern.FindStringSubmatch(match)
		return parts[1] + maskValue(parts[2])
	})

	return result
}

// maskValue는 값을 마스킹합니다.
// 앞 4자와 뒤 4자만 남기고 나머지는 ***로 대체합니다.
func maskValue(value string) string {
	value = strings.TrimSpace(value)
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "***" + value[len(value)-4:]
}

// Component는 컴포넌트 이름이 붙은 하위 로거를 반환합니다.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Printf는 zerolog 로거를 printf 스타일 인터페이스로 감쌉니다.
// MCP HTTP 트랜스포트처럼 Infof/Errorf만 요구하는 라이브러리에 전달할 때 사용합니다.
type Printf struct {
	logger zerolog.Logger
}

// NewPrintf는 Printf 어댑터를 생성합니다.
func NewPrintf(l zerolog.Logger) *Printf {
	return &Printf{logger: l}
}

// Infof는 정보 레벨 로그를 기록합니다.
func (p *Printf) Infof(format string, v ...any) {
	p.logger.Info().Msg(fmt.Sprintf(format, v...))
}

// Errorf는 오류 레벨 로그를 기록합니다.
func (p *Printf) Errorf(format string, v ...any) {
	p.logger.Error().Msg(fmt.Sprintf(format, v...))
}
