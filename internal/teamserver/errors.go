package teamserver

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated는 Authenticate 호출 전에 인증 세션을 요청한 경우 반환됩니다.
	ErrNotAuthenticated = errors.New("인증되지 않았습니다. Authenticate를 먼저 호출하세요")
	// ErrAlreadyAuthenticated는 이미 인증된 클라이언트에서 Authenticate를 다시 호출한 경우 반환됩니다.
	ErrAlreadyAuthenticated = errors.New("이미 인증된 클라이언트입니다")
	// ErrClientClosed는 Close 이후 클라이언트를 사용하려 한 경우 반환됩니다.
	ErrClientClosed = errors.New("클라이언트가 이미 종료되었습니다")
	// ErrMissingToken은 로그인 응답에 access_token이 없는 경우입니다.
	ErrMissingToken = errors.New("인증 응답에 access_token이 없습니다")
)

// AuthenticationError는 로그인 교환 실패를 나타냅니다.
// StatusCode가 0이면 전송 단계에서 실패한 것입니다.
type AuthenticationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthenticationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("인증 실패 (HTTP %d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("인증 요청 실패: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// SpecFetchError는 OpenAPI 문서 조회 또는 파싱 실패를 나타냅니다.
type SpecFetchError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SpecFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("OpenAPI 문서 조회 실패 (HTTP %d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("OpenAPI 문서 조회 실패: %v", e.Err)
}

func (e *SpecFetchError) Unwrap() error {
	return e.Err
}
