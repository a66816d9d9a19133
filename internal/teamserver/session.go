package teamserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// maxResponseBytes는 한 응답에서 읽는 최대 바이트 수입니다.
const maxResponseBytes = 32 << 20

// Recorder는 팀 서버 요청 결과를 기록합니다.
// *metrics.Metrics가 이 인터페이스를 만족합니다.
type Recorder interface {
	RecordUpstream(d time.Duration, failed bool)
}

// Session은 인증된 공유 HTTP 클라이언트입니다.
// 기본 헤더(Authorization, Accept, User-Agent)와 하나의 연결 풀을 가지며,
// 생성 후에는 변경되지 않으므로 여러 고루틴에서 동시에 사용할 수 있습니다.
type Session struct {
	baseURL    string
	header     http.Header
	httpClient *http.Client
	transport  *http.Transport
	recorder   Recorder
	logger     zerolog.Logger
}

// Response는 팀 서버 응답입니다. 본문은 이미 모두 읽힌 상태입니다.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK는 2xx 응답인지 확인합니다.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Text는 공백을 제거한 본문 문자열을 반환합니다.
func (r *Response) Text() string {
	return strings.TrimSpace(string(r.Body))
}

// JSON은 본문을 v로 디코딩합니다.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("응답 파싱 실패 (HTTP %d): %w", r.StatusCode, err)
	}
	return nil
}

// IsJSON은 Content-Type이 JSON인지 확인합니다.
func (r *Response) IsJSON() bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "json")
}

// BaseURL은 세션의 기본 URL을 반환합니다.
func (s *Session) BaseURL() string {
	return s.baseURL
}

// Header는 기본 헤더의 복사본을 반환합니다.
func (s *Session) Header() http.Header {
	return s.header.Clone()
}

// Get은 path에 GET 요청을 보냅니다.
func (s *Session) Get(ctx context.Context, path string) (*Response, error) {
	return s.Send(ctx, http.MethodGet, path, nil, nil, nil)
}

// Send는 인증된 요청을 전송하고 응답 본문을 모두 읽어 반환합니다.
// path가 절대 URL이면 그대로 사용하고, 아니면 기본 URL 뒤에 붙입니다.
// header는 Authorization을 제외한 기본 헤더를 덮어씁니다. body가 있으면 JSON으로 전송합니다.
// 2xx가 아닌 응답도 오류가 아니라 Response로 반환됩니다.
func (s *Session) Send(ctx context.Context, method, path string, query url.Values, header http.Header, body []byte) (*Response, error) {
	target, err := s.resolve(path, query)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("HTTP 요청 생성 실패: %w", err)
	}

	for k, vs := range s.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		// 세션 자격 증명은 호출별 헤더로 바꿀 수 없습니다.
		if http.CanonicalHeaderKey(k) == "Authorization" {
			continue
		}
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	s.logger.Debug().
		Str("method", method).
		Str("path", path).
		Msg("팀 서버 요청 전송")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.record(start, true)
		return nil, fmt.Errorf("팀 서버 통신 실패: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		s.record(start, true)
		return nil, fmt.Errorf("응답 읽기 실패: %w", err)
	}

	result := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}
	s.record(start, !result.OK())

	if resp.StatusCode == http.StatusUnauthorized {
		// 세션 만료는 자동으로 갱신하지 않습니다.
		s.logger.Warn().
			Str("path", path).
			Msg("팀 서버가 401을 반환했습니다. 세션이 만료되었을 수 있습니다")
	}

	return result, nil
}

func (s *Session) record(start time.Time, failed bool) {
	if s.recorder != nil {
		s.recorder.RecordUpstream(time.Since(start), failed)
	}
}

// resolve는 요청 대상 URL을 만듭니다.
func (s *Session) resolve(path string, query url.Values) (string, error) {
	raw := path
	if !isAbsoluteURL(path) {
		raw = joinURL(s.baseURL, path)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("잘못된 요청 경로 %q: %w", path, err)
	}

	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// closeIdle은 풀링된 유휴 연결을 닫습니다.
func (s *Session) closeIdle() {
	s.transport.CloseIdleConnections()
}

func isAbsoluteURL(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
