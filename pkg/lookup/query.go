package lookup

import (
	"bytes"
	"encoding/json"
)

type QueryType string

const Match QueryType = "match"

// Query is a single-field search request body
type Query struct {
	Type  QueryType
	Field string
	Value interface{}
	Size  int
}

func NewMatchQuery(field string, value interface{}) *Query {
	return &Query{
		Type:  Match,
		Field: field,
		Value: value,
	}
}

func (q *Query) SetSize(size int) *Query {
	q.Size = size
	return q
}

// Body renders the request body, e.g. {"query":{"match":{"nit":"123"}}}
func (q *Query) Body() ([]byte, error) {
	body := map[string]interface{}{
		"query": map[string]interface{}{
			string(q.Type): map[string]interface{}{
				q.Field: q.Value,
			},
		},
	}
	if q.Size > 0 {
		body["size"] = q.Size
	}
	return json.Marshal(body)
}

// String renders the body indented for logs
func (q *Query) String() string {
	body, err := q.Body()
	if err != nil {
		return ""
	}
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return string(body)
	}
	return out.String()
}
