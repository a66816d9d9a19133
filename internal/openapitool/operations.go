// Package openapitool은 OpenAPI 3 문서를 MCP 도구로 변환합니다.
// 각 operation은 하나의 도구가 되고, 도구 호출은 공유 팀 서버 세션을 통해
// 원래 HTTP 엔드포인트로 전달됩니다.
package openapitool

import (
	"net/http"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

// Operation은 도구 하나로 변환될 OpenAPI operation입니다.
type Operation struct {
	OperationID string
	Summary     string
	Description string
	Path        string
	Method      string
	Tags        []string
	Deprecated  bool
	// Parameters는 경로 수준 파라미터와 operation 파라미터를 합친 목록입니다.
	// 같은 (in, name)이면 operation 쪽이 우선합니다.
	Parameters  openapi3.Parameters
	RequestBody *openapi3.RequestBodyRef
}

// methodOrder는 같은 경로 안에서 operation 정렬 순서입니다.
var methodOrder = map[string]int{
	http.MethodGet:     0,
	http.MethodPost:    1,
	http.MethodPut:     2,
	http.MethodPatch:   3,
	http.MethodDelete:  4,
	http.MethodHead:    5,
	http.MethodOptions: 6,
	http.MethodTrace:   7,
	http.MethodConnect: 8,
}

// ExtractOperations는 문서의 모든 (경로, 메서드) 쌍을 경로, 메서드 순으로 반환합니다.
func ExtractOperations(doc *openapi3.T) []Operation {
	if doc == nil || doc.Paths == nil {
		return nil
	}

	paths := doc.Paths.Map()
	keys := make([]string, 0, len(paths))
	for p := range paths {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	var ops []Operation
	for _, path := range keys {
		item := paths[path]
		if item == nil {
			continue
		}

		byMethod := item.Operations()
		methods := make([]string, 0, len(byMethod))
		for m := range byMethod {
			methods = append(methods, m)
		}
		sort.Slice(methods, func(i, j int) bool {
			return methodOrder[methods[i]] < methodOrder[methods[j]]
		})

		for _, method := range methods {
			op := byMethod[method]
			ops = append(ops, Operation{
				OperationID: op.OperationID,
				Summary:     op.Summary,
				Description: op.Description,
				Path:        path,
				Method:      method,
				Tags:        op.Tags,
				Deprecated:  op.Deprecated,
				Parameters:  mergeParameters(item.Parameters, op.Parameters),
				RequestBody: op.RequestBody,
			})
		}
	}
	return ops
}

// mergeParameters는 경로 수준 파라미터에 operation 파라미터를 덮어씁니다.
func mergeParameters(pathLevel, opLevel openapi3.Parameters) openapi3.Parameters {
	if len(pathLevel) == 0 {
		return opLevel
	}

	type key struct{ in, name string }
	overridden := make(map[key]bool, len(opLevel))
	for _, ref := range opLevel {
		if ref != nil && ref.Value != nil {
			overridden[key{ref.Value.In, ref.Value.Name}] = true
		}
	}

	merged := make(openapi3.Parameters, 0, len(pathLevel)+len(opLevel))
	for _, ref := range pathLevel {
		if ref == nil || ref.Value == nil {
			continue
		}
		if overridden[key{ref.Value.In, ref.Value.Name}] {
			continue
		}
		merged = append(merged, ref)
	}
	return append(merged, opLevel...)
}
