package qdrant

import (
	"slices"
	"strconv"
	"strings"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

var textPayloadKeys = []string{"text", "content"}

func chunkFromPayload(id string, payload map[string]*pb.Value) domain.IndexedChunk {
	c := domain.IndexedChunk{ID: id, Metadata: make(map[string]string, len(payload))}
	for k, v := range payload {
		c.Metadata[k] = valueString(v)
	}
	for _, k := range textPayloadKeys {
		if t, ok := c.Metadata[k]; ok && c.Text == "" {
			c.Text = t
		}
		delete(c.Metadata, k)
	}
	return c
}

func valueString(v *pb.Value) string {
	if v == nil {
		return ""
	}
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return strconv.FormatInt(k.IntegerValue, 10)
	case *pb.Value_DoubleValue:
		return strconv.FormatFloat(k.DoubleValue, 'f', -1, 64)
	case *pb.Value_BoolValue:
		return strconv.FormatBool(k.BoolValue)
	case *pb.Value_ListValue:
		parts := make([]string, 0, len(k.ListValue.GetValues()))
		for _, item := range k.ListValue.GetValues() {
			if s := valueString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

func pointID(id *pb.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func buildFilter(f domain.ChunkFilter) *pb.Filter {
	var must []*pb.Condition
	if len(f.SourceTypes) > 0 {
		must = append(must, keywordsCondition("source_type", f.SourceTypes))
	}
	for _, k := range sortedKeys(f.Equals) {
		must = append(must, fieldMatch(k, f.Equals[k]))
	}
	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}

// keyCondition matches the key whether it was stored as a string or an
// integer payload.
func keyCondition(field, key string) *pb.Condition {
	n, err := strconv.ParseInt(key, 10, 64)
	if err != nil || strconv.FormatInt(n, 10) != key {
		return fieldMatch(field, key)
	}
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Filter{
			Filter: &pb.Filter{Should: []*pb.Condition{
				fieldMatch(field, key),
				{
					ConditionOneOf: &pb.Condition_Field{
						Field: &pb.FieldCondition{
							Key:   field,
							Match: &pb.Match{MatchValue: &pb.Match_Integer{Integer: n}},
						},
					},
				},
			}},
		},
	}
}

// anyKeyCondition matches field against any of keys.
func anyKeyCondition(field string, keys []string) *pb.Condition {
	if len(keys) == 1 {
		return keyCondition(field, keys[0])
	}
	should := make([]*pb.Condition, 0, len(keys))
	for _, k := range keys {
		should = append(should, keyCondition(field, k))
	}
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Filter{Filter: &pb.Filter{Should: should}},
	}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func keywordsCondition(key string, values []string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keywords{Keywords: &pb.RepeatedStrings{Strings: values}},
				},
			},
		},
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
