package openapitool

import (
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

// maxSchemaDepth는 재귀 스키마 변환의 최대 깊이입니다.
// 이보다 깊은 스키마는 제약 없는 스키마로 대체됩니다.
const maxSchemaDepth = 8

// ConvertSchema는 OpenAPI 스키마를 JSON Schema 맵으로 변환합니다.
// $ref는 로더가 이미 해석한 값을 따라갑니다.
func ConvertSchema(ref *openapi3.SchemaRef) map[string]any {
	return convertSchema(ref, 0)
}

func convertSchema(ref *openapi3.SchemaRef, depth int) map[string]any {
	out := map[string]any{}
	if ref == nil || ref.Value == nil {
		return out
	}
	s := ref.Value

	if s.Description != "" {
		out["description"] = s.Description
	}
	if depth >= maxSchemaDepth {
		return out
	}

	if s.Type != nil && len(*s.Type) > 0 {
		types := append([]string(nil), s.Type.Slice()...)
		if s.Nullable && !s.Type.Includes(openapi3.TypeNull) {
			types = append(types, openapi3.TypeNull)
		}
		if len(types) == 1 {
			out["type"] = types[0]
		} else {
			out["type"] = types
		}
	}

	if s.Title != "" {
		out["title"] = s.Title
	}
	if s.Format != "" {
		out["format"] = s.Format
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Default != nil {
		out["default"] = s.Default
	}

	// 숫자
	if s.Min != nil {
		if s.ExclusiveMin {
			out["exclusiveMinimum"] = *s.Min
		} else {
			out["minimum"] = *s.Min
		}
	}
	if s.Max != nil {
		if s.ExclusiveMax {
			out["exclusiveMaximum"] = *s.Max
		} else {
			out["maximum"] = *s.Max
		}
	}
	if s.MultipleOf != nil {
		out["multipleOf"] = *s.MultipleOf
	}

	// 문자열
	if s.MinLength > 0 {
		out["minLength"] = s.MinLength
	}
	if s.MaxLength != nil {
		out["maxLength"] = *s.MaxLength
	}
	if s.Pattern != "" {
		out["pattern"] = s.Pattern
	}

	// 배열
	if s.Items != nil {
		out["items"] = convertSchema(s.Items, depth+1)
	}
	if s.MinItems > 0 {
		out["minItems"] = s.MinItems
	}
	if s.MaxItems != nil {
		out["maxItems"] = *s.MaxItems
	}
	if s.UniqueItems {
		out["uniqueItems"] = true
	}

	// 객체
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			if prop != nil && prop.Value != nil && prop.Value.ReadOnly {
				// 응답 전용 필드는 입력으로 받지 않습니다.
				continue
			}
			props[name] = convertSchema(prop, depth+1)
		}
		out["properties"] = props
	}
	if required := writableRequired(s); len(required) > 0 {
		out["required"] = required
	}
	if ap := s.AdditionalProperties; ap.Schema != nil {
		out["additionalProperties"] = convertSchema(ap.Schema, depth+1)
	} else if ap.Has != nil {
		out["additionalProperties"] = *ap.Has
	}

	// 조합
	if len(s.OneOf) > 0 {
		out["oneOf"] = convertSchemas(s.OneOf, depth+1)
	}
	if len(s.AnyOf) > 0 {
		out["anyOf"] = convertSchemas(s.AnyOf, depth+1)
	}
	if len(s.AllOf) > 0 {
		out["allOf"] = convertSchemas(s.AllOf, depth+1)
	}

	return out
}

func convertSchemas(refs openapi3.SchemaRefs, depth int) []any {
	out := make([]any, 0, len(refs))
	for _, r := range refs {
		out = append(out, convertSchema(r, depth))
	}
	return out
}

// writableRequired는 readOnly가 아닌 필수 속성 이름을 정렬해 반환합니다.
func writableRequired(s *openapi3.Schema) []string {
	var required []string
	for _, name := range s.Required {
		if prop, ok := s.Properties[name]; ok && prop != nil && prop.Value != nil && prop.Value.ReadOnly {
			continue
		}
		required = append(required, name)
	}
	sort.Strings(required)
	return required
}

// objectProperties는 본문 스키마를 평탄화할 수 있으면 속성 목록을 반환합니다.
// allOf로 합성된 객체도 속성을 모아 반환합니다.
func objectProperties(ref *openapi3.SchemaRef) (openapi3.Schemas, []string, bool) {
	if ref == nil || ref.Value == nil {
		return nil, nil, false
	}
	s := ref.Value

	if len(s.OneOf) > 0 || len(s.AnyOf) > 0 {
		return nil, nil, false
	}
	if s.Type != nil && len(*s.Type) > 0 && !s.Type.Is(openapi3.TypeObject) {
		return nil, nil, false
	}

	props := openapi3.Schemas{}
	var required []string
	for name, prop := range s.Properties {
		props[name] = prop
	}
	required = append(required, s.Required...)

	for _, part := range s.AllOf {
		partProps, partRequired, ok := objectProperties(part)
		if !ok {
			return nil, nil, false
		}
		for name, prop := range partProps {
			props[name] = prop
		}
		required = append(required, partRequired...)
	}

	if len(props) == 0 {
		return nil, nil, false
	}
	return props, required, true
}
