// Package teamserver는 팀 서버 REST API의 인증 세션을 관리합니다.
// 로그인 교환으로 받은 Bearer 토큰으로 공유 Session을 한 번만 만들고,
// OpenAPI 문서 조회와 데이터 뷰, 생성된 도구가 모두 같은 Session을 사용합니다.
package teamserver

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/rs/zerolog"
)

// UserAgent는 모든 팀 서버 요청에 사용되는 User-Agent입니다.
const UserAgent = "cs-mcp/1.0"

// DefaultTimeout은 Options.Timeout이 0 이하일 때 사용하는 HTTP 타임아웃입니다.
const DefaultTimeout = 30 * time.Second

// Options는 Client 생성 옵션입니다.
type Options struct {
	// BaseURL은 팀 서버 REST API의 기본 URL입니다. 끝의 /는 제거됩니다.
	BaseURL string
	// VerifyTLS가 false이면 인증서 검증을 건너뜁니다.
	VerifyTLS bool
	Timeout   time.Duration
	Logger    zerolog.Logger
	// Recorder가 설정되면 모든 인증된 요청의 지연 시간과 실패를 기록합니다.
	Recorder Recorder
}

// Client는 팀 서버 세션 클라이언트입니다.
// 자격 증명은 한 번만 얻을 수 있고, 공유 Session은 최초 요청 시 한 번만 생성됩니다.
// Close 이후에는 다시 사용할 수 없습니다.
type Client struct {
	baseURL   string
	verifyTLS bool
	timeout   time.Duration
	logger    zerolog.Logger
	recorder  Recorder

	mu         sync.Mutex
	token      string
	durationMs int64
	session    *Session
	closed     bool
}

// loginRequest는 로그인 요청 본문입니다.
type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	DurationMs int64  `json:"duration_ms"`
}

// loginResponse는 로그인 응답 본문입니다.
type loginResponse struct {
	AccessToken string `json:"access_token"`
}

// NewClient는 새 Client를 생성합니다. 네트워크 요청은 하지 않습니다.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		verifyTLS: opts.VerifyTLS,
		timeout:   timeout,
		logger:    opts.Logger.With().Str("component", "teamserver.client").Logger(),
		recorder:  opts.Recorder,
	}
}

// BaseURL은 정규화된 기본 URL을 반환합니다.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// VerifyTLS는 인증서 검증 여부를 반환합니다.
func (c *Client) VerifyTLS() bool {
	return c.verifyTLS
}

// IsAuthenticated는 자격 증명을 보유하고 있는지 확인합니다.
func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

// DurationMs는 인증 시 요청한 세션 유효 기간을 반환합니다.
func (c *Client) DurationMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.durationMs
}

// Authenticate는 로그인 교환을 수행하고 Bearer 토큰을 저장합니다.
// 로그인에는 인증 헤더가 없는 단기 HTTP 클라이언트를 사용하며,
// 성공 여부와 관계없이 해당 클라이언트의 연결을 정리합니다.
// 실패하면 자격 증명은 설정되지 않은 상태로 남습니다.
func (c *Client) Authenticate(ctx context.Context, username, password string, durationMs int64, loginPath string) (string, error) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return "", ErrClientClosed
	case c.token != "":
		c.mu.Unlock()
		return "", ErrAlreadyAuthenticated
	}
	c.mu.Unlock()

	payload, err := json.Marshal(loginRequest{
		Username:   username,
		Password:   password,
		DurationMs: durationMs,
	})
	if err != nil {
		return "", fmt.Errorf("로그인 요청 직렬화 실패: %w", err)
	}

	transport := newTransport(c.verifyTLS)
	defer transport.CloseIdleConnections()
	httpClient := &http.Client{Transport: transport, Timeout: c.timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(c.baseURL, loginPath), bytes.NewReader(payload))
	if err != nil {
		return "", &AuthenticationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	c.logger.Debug().
		Str("path", loginPath).
		Str("username", username).
		Msg("팀 서버 로그인 요청")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", &AuthenticationError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &AuthenticationError{Err: fmt.Errorf("응답 읽기 실패: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &AuthenticationError{
			StatusCode: resp.StatusCode,
			Body:       detail(resp.StatusCode, body),
		}
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return "", &AuthenticationError{Err: fmt.Errorf("%w: %v", ErrMissingToken, err)}
	}
	if lr.AccessToken == "" {
		return "", &AuthenticationError{Err: ErrMissingToken}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClientClosed
	}
	if c.token != "" {
		return "", ErrAlreadyAuthenticated
	}
	c.token = lr.AccessToken
	c.durationMs = durationMs

	c.logger.Info().
		Str("username", username).
		Dur("requested_duration", time.Duration(durationMs)*time.Millisecond).
		Msg("팀 서버 인증 성공")

	return lr.AccessToken, nil
}

// AuthenticatedClient는 공유 Session을 반환합니다.
// 최초 호출 시 Session을 생성하며 이후에는 같은 인스턴스를 반환합니다.
func (c *Client) AuthenticatedClient() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}
	if c.session != nil {
		return c.session, nil
	}

	transport := newTransport(c.verifyTLS)
	header := make(http.Header)
	header.Set("Authorization", "Bearer "+c.token)
	header.Set("Accept", "application/json")
	header.Set("User-Agent", UserAgent)

	c.session = &Session{
		baseURL:    c.baseURL,
		header:     header,
		httpClient: &http.Client{Transport: transport, Timeout: c.timeout},
		transport:  transport,
		recorder:   c.recorder,
		logger:     c.logger.With().Str("component", "teamserver.session").Logger(),
	}
	c.logger.Debug().Msg("인증된 세션 생성")

	return c.session, nil
}

// FetchSpec은 공유 Session으로 OpenAPI 문서를 내려받아 파싱합니다.
func (c *Client) FetchSpec(ctx context.Context, specPath string) (*openapi3.T, error) {
	session, err := c.AuthenticatedClient()
	if err != nil {
		return nil, err
	}

	resp, err := session.Get(ctx, specPath)
	if err != nil {
		return nil, &SpecFetchError{Err: err}
	}
	if !resp.OK() {
		return nil, &SpecFetchError{
			StatusCode: resp.StatusCode,
			Body:       detail(resp.StatusCode, resp.Body),
		}
	}

	doc, err := ParseSpec(ctx, resp.Body, c.logger)
	if err != nil {
		return nil, &SpecFetchError{Err: err}
	}

	c.logger.Info().
		Str("path", specPath).
		Str("title", doc.Info.Title).
		Str("version", doc.Info.Version).
		Int("paths", doc.Paths.Len()).
		Msg("OpenAPI 문서 조회 성공")

	return doc, nil
}

// ParseSpec은 OpenAPI 3 문서를 파싱합니다.
// 외부 참조는 따라가지 않습니다. 검증 실패는 경고로만 기록합니다.
func ParseSpec(ctx context.Context, data []byte, logger zerolog.Logger) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("OpenAPI 문서 파싱 실패: %w", err)
	}
	if doc.OpenAPI == "" {
		return nil, errors.New("OpenAPI 3 문서가 아닙니다 (openapi 필드 없음)")
	}
	if doc.Paths == nil {
		doc.Paths = openapi3.NewPaths()
	}
	if doc.Info == nil {
		doc.Info = &openapi3.Info{}
	}

	if err := doc.Validate(ctx, openapi3.DisableExamplesValidation()); err != nil {
		logger.Warn().Err(err).Msg("OpenAPI 문서 검증 경고 (계속 진행)")
	}
	return doc, nil
}

// Close는 공유 Session의 연결을 정리합니다.
// 여러 번 호출해도 안전하며, 자격 증명은 유지됩니다.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		c.session.closeIdle()
		c.session = nil
	}
	if !c.closed {
		c.closed = true
		c.logger.Debug().Msg("팀 서버 클라이언트 종료")
	}
}

// newTransport는 TLS 정책이 적용된 전송 계층을 생성합니다.
func newTransport(verifyTLS bool) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if !verifyTLS {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- --insecure 옵션
	}
	return t
}

// detail은 오류 응답 본문을 요약합니다. 본문이 비어있으면 상태 텍스트를 사용합니다.
func detail(status int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return http.StatusText(status)
	}
	const max = 2048
	if len(text) > max {
		text = text[:max] + "..."
	}
	return text
}
