package openapitool

import (
	"regexp"
	"strings"
)

// RouteType은 operation을 어떻게 노출할지 결정합니다.
type RouteType int

const (
	// RouteTool은 operation을 MCP 도구로 노출합니다.
	RouteTool RouteType = iota
	// RouteExclude는 operation을 노출하지 않습니다.
	RouteExclude
)

func (t RouteType) String() string {
	switch t {
	case RouteTool:
		return "tool"
	case RouteExclude:
		return "exclude"
	default:
		return "unknown"
	}
}

// RouteMap은 operation 분류 규칙입니다.
// 설정된 조건이 모두 맞아야 일치하며, 비어있는 조건은 모든 operation과 일치합니다.
type RouteMap struct {
	// Methods는 허용 메서드 목록입니다. 비어있거나 "*"를 포함하면 모든 메서드와 일치합니다.
	Methods []string
	// Pattern은 경로에 대한 정규식입니다 (부분 일치).
	Pattern *regexp.Regexp
	// Tags는 operation이 모두 가지고 있어야 하는 태그입니다.
	Tags []string
	Type RouteType
}

// Matches는 operation이 규칙과 일치하는지 확인합니다.
func (m RouteMap) Matches(op Operation) bool {
	if len(m.Methods) > 0 {
		matched := false
		for _, method := range m.Methods {
			if method == "*" || strings.EqualFold(method, op.Method) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if m.Pattern != nil && !m.Pattern.MatchString(op.Path) {
		return false
	}

	for _, want := range m.Tags {
		if !containsString(op.Tags, want) {
			return false
		}
	}
	return true
}

// Classify는 첫 번째로 일치하는 규칙의 타입을 반환합니다.
// 일치하는 규칙이 없으면 RouteTool입니다.
func Classify(op Operation, maps []RouteMap) RouteType {
	for _, m := range maps {
		if m.Matches(op) {
			return m.Type
		}
	}
	return RouteTool
}

// DefaultRouteMaps는 팀 서버 API의 기본 제외 규칙을 반환합니다.
// 보안(Security) 태그가 붙은 계정 관리 operation과
// 팀 서버 데이터를 초기화하는 resetData operation은 도구로 노출하지 않습니다.
func DefaultRouteMaps() []RouteMap {
	return []RouteMap{
		{
			Tags: []string{"Security"},
			Type: RouteExclude,
		},
		{
			Pattern: regexp.MustCompile(`^/.*/config/resetData`),
			Type:    RouteExclude,
		},
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
