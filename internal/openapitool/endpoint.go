package openapitool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"
	"github.com/insajin/cs-mcp-bridge/internal/teamserver"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
)

// argKind는 도구 인자가 HTTP 요청의 어디에 들어가는지 나타냅니다.
type argKind int

const (
	argPath argKind = iota
	argQuery
	argHeader
	argCookie
	argBodyField
	argBody
)

// binding은 도구 인자 하나와 HTTP 요청 위치의 연결입니다.
type binding struct {
	arg      string
	name     string
	kind     argKind
	required bool
}

// endpoint는 도구 하나가 호출하는 HTTP 엔드포인트입니다.
type endpoint struct {
	method      string
	path        string
	bindings    []binding
	contentType string
	requester   Requester
	logger      zerolog.Logger
}

// newEndpoint는 operation에서 엔드포인트와 입력 스키마를 만듭니다.
func newEndpoint(op Operation, requester Requester, logger zerolog.Logger) (*endpoint, map[string]any) {
	ep := &endpoint{
		method:    op.Method,
		path:      op.Path,
		requester: requester,
		logger:    logger,
	}

	props := map[string]any{}
	used := map[string]bool{}
	var required []string

	add := func(b binding, schema map[string]any) {
		props[b.arg] = schema
		used[b.arg] = true
		if b.required {
			required = append(required, b.arg)
		}
		ep.bindings = append(ep.bindings, b)
	}

	for _, ref := range op.Parameters {
		if ref == nil || ref.Value == nil {
			continue
		}
		p := ref.Value

		kind, ok := parameterKind(p.In)
		if !ok {
			continue
		}

		arg := p.Name
		if used[arg] {
			arg = p.In + "_" + p.Name
		}

		add(binding{
			arg:      arg,
			name:     p.Name,
			kind:     kind,
			required: p.Required || kind == argPath,
		}, parameterSchema(p))
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		rb := op.RequestBody.Value
		ct, media := pickContent(rb.Content)
		if media != nil {
			ep.contentType = ct
			if fields, fieldRequired, ok := objectProperties(media.Schema); ok && isJSON(ct) {
				requiredSet := make(map[string]bool, len(fieldRequired))
				for _, r := range fieldRequired {
					requiredSet[r] = true
				}

				names := make([]string, 0, len(fields))
				for name := range fields {
					names = append(names, name)
				}
				sort.Strings(names)

				for _, name := range names {
					prop := fields[name]
					if prop != nil && prop.Value != nil && prop.Value.ReadOnly {
						continue
					}
					arg := name
					if used[arg] {
						arg = "body_" + name
					}
					add(binding{
						arg:      arg,
						name:     name,
						kind:     argBodyField,
						required: rb.Required && requiredSet[name],
					}, ConvertSchema(prop))
				}
			} else {
				schema := map[string]any{"type": "string"}
				if isJSON(ct) {
					schema = ConvertSchema(media.Schema)
				}
				desc := rb.Description
				if desc == "" {
					desc = fmt.Sprintf("Request body (%s)", ct)
				}
				schema["description"] = desc
				add(binding{
					arg:      "body",
					name:     "body",
					kind:     argBody,
					required: rb.Required,
				}, schema)
			}
		}
	}

	sort.Strings(required)
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return ep, schema
}

func parameterKind(in string) (argKind, bool) {
	switch in {
	case openapi3.ParameterInPath:
		return argPath, true
	case openapi3.ParameterInQuery:
		return argQuery, true
	case openapi3.ParameterInHeader:
		return argHeader, true
	case openapi3.ParameterInCookie:
		return argCookie, true
	default:
		return 0, false
	}
}

// parameterSchema는 파라미터의 JSON Schema를 만듭니다.
// schema가 없으면 content의 스키마를, 둘 다 없으면 문자열을 사용합니다.
func parameterSchema(p *openapi3.Parameter) map[string]any {
	var schema map[string]any
	switch {
	case p.Schema != nil:
		schema = ConvertSchema(p.Schema)
	case len(p.Content) > 0:
		if _, media := pickContent(p.Content); media != nil {
			schema = ConvertSchema(media.Schema)
		}
	}
	if schema == nil {
		schema = map[string]any{}
	}
	if len(schema) == 0 {
		schema["type"] = "string"
	}
	if p.Description != "" {
		schema["description"] = p.Description
	}
	return schema
}

// pickContent는 JSON 미디어 타입을 우선으로 본문 형식을 고릅니다.
func pickContent(content openapi3.Content) (string, *openapi3.MediaType) {
	if len(content) == 0 {
		return "", nil
	}
	if mt := content.Get("application/json"); mt != nil {
		return "application/json", mt
	}

	types := make([]string, 0, len(content))
	for ct := range content {
		types = append(types, ct)
	}
	sort.Strings(types)
	for _, ct := range types {
		if isJSON(ct) {
			return ct, content[ct]
		}
	}
	return types[0], content[types[0]]
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "json")
}

// handle은 도구 호출을 HTTP 요청으로 변환해 팀 서버로 전송합니다.
// 오류는 프로토콜 오류가 아니라 도구 오류 결과로 반환됩니다.
func (e *endpoint) handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	path := e.path
	query := url.Values{}
	header := http.Header{}
	var cookies []string
	var fields map[string]any
	var rawBody any
	hasRaw := false

	for _, b := range e.bindings {
		v, ok := args[b.arg]
		if !ok || v == nil {
			if b.required {
				return mcp.NewToolResultErrorf("missing required argument: %s", b.arg), nil
			}
			continue
		}

		switch b.kind {
		case argPath:
			path = strings.ReplaceAll(path, "{"+b.name+"}", url.PathEscape(formatValue(v)))
		case argQuery:
			if list, ok := v.([]any); ok {
				for _, item := range list {
					query.Add(b.name, formatValue(item))
				}
			} else {
				query.Add(b.name, formatValue(v))
			}
		case argHeader:
			header.Set(b.name, formatValue(v))
		case argCookie:
			cookies = append(cookies, (&http.Cookie{Name: b.name, Value: formatValue(v)}).String())
		case argBodyField:
			if fields == nil {
				fields = map[string]any{}
			}
			fields[b.name] = v
		case argBody:
			rawBody = v
			hasRaw = true
		}
	}
	if len(cookies) > 0 {
		header.Set("Cookie", strings.Join(cookies, "; "))
	}

	body, err := e.encodeBody(fields, rawBody, hasRaw, header)
	if err != nil {
		return mcp.NewToolResultErrorf("invalid request body: %v", err), nil
	}

	requestID := uuid.NewString()
	header.Set("X-Request-ID", requestID)

	e.logger.Debug().
		Str("tool", req.Params.Name).
		Str("method", e.method).
		Str("path", path).
		Str("request_id", requestID).
		Msg("도구 호출 전달")

	resp, err := e.requester.Send(ctx, e.method, path, query, header, body)
	if err != nil {
		e.logger.Warn().Err(err).Str("request_id", requestID).Msg("도구 요청 전송 실패")
		return mcp.NewToolResultErrorf("%s %s request failed: %v", e.method, path, err), nil
	}
	return toolResult(resp), nil
}

// encodeBody는 요청 본문을 직렬화합니다.
func (e *endpoint) encodeBody(fields map[string]any, rawBody any, hasRaw bool, header http.Header) ([]byte, error) {
	switch {
	case hasRaw:
		if !isJSON(e.contentType) {
			header.Set("Content-Type", e.contentType)
			if s, ok := rawBody.(string); ok {
				return []byte(s), nil
			}
		}
		return json.Marshal(rawBody)
	case fields != nil:
		return json.Marshal(fields)
	default:
		return nil, nil
	}
}

// toolResult는 팀 서버 응답을 도구 결과로 변환합니다.
func toolResult(resp *teamserver.Response) *mcp.CallToolResult {
	text := resp.Text()

	if !resp.OK() {
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		return mcp.NewToolResultErrorf("HTTP %d: %s", resp.StatusCode, text)
	}

	if text == "" {
		return mcp.NewToolResultText(fmt.Sprintf("Request succeeded with HTTP %d and no content.", resp.StatusCode))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(text), "", "  "); err != nil {
		return mcp.NewToolResultText(text)
	}

	if strings.HasPrefix(text, "{") {
		dec := json.NewDecoder(strings.NewReader(text))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err == nil {
			return mcp.NewToolResultStructured(obj, pretty.String())
		}
	}
	return mcp.NewToolResultText(pretty.String())
}

// formatValue는 인자 값을 경로, 쿼리, 헤더에 쓸 문자열로 변환합니다.
func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case int, int32, int64:
		return fmt.Sprint(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}
