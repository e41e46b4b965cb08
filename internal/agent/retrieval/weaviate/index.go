// Package weaviate implements the knowledge index on a Weaviate class whose objects
// carry their namespace as a property.
package weaviate

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"

	wv "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/Chative-core-poc-v1/cafebot/internal/agent/model"
	errx "github.com/Chative-core-poc-v1/cafebot/internal/core/error"
	logx "github.com/Chative-core-poc-v1/cafebot/pkg/logger"
)

const (
	propNamespace = "namespace"
	propSourceID  = "source_id"
	propMetadata  = "metadata_json"
)

type Index struct {
	client *wv.Client
	class  string
}

func NewIndex(client *wv.Client, class string) *Index {
	if class == "" {
		class = "Knowledge"
	}
	return &Index{client: client, class: class}
}

type additional struct {
	ID        string   `json:"id"`
	Certainty *float64 `json:"certainty"`
	Distance  *float64 `json:"distance"`
}

type object struct {
	Namespace  string     `json:"namespace"`
	SourceID   string     `json:"source_id"`
	Metadata   string     `json:"metadata_json"`
	Additional additional `json:"_additional"`
}

type getResponse struct {
	Get map[string][]object `json:"Get"`
}

// Query runs a nearVector search restricted to q.Namespace and any equality filters.
func (x *Index) Query(ctx context.Context, q model.VectorQuery) ([]model.Match, error) {
	if len(q.Vector) == 0 {
		return nil, errx.New(nil, errx.KindPermanent, "empty query vector")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = 5
	}

	vec := make([]float32, len(q.Vector))
	for i, v := range q.Vector {
		vec[i] = float32(v)
	}

	fields := []graphql.Field{
		{Name: propNamespace},
		{Name: propSourceID},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "certainty"}, {Name: "distance"}}},
	}
	if q.IncludeMetadata {
		fields = append(fields, graphql.Field{Name: propMetadata})
	}

	get := x.client.GraphQL().Get().
		WithClassName(x.class).
		WithNearVector(x.client.GraphQL().NearVectorArgBuilder().WithVector(vec)).
		WithLimit(topK).
		WithFields(fields...)
	if where := buildWhere(q); where != nil {
		get = get.WithWhere(where)
	}

	resp, err := get.Do(ctx)
	if err != nil {
		return nil, errx.New(err, errx.KindTransient, "weaviate query failed")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, errx.New(errors.New(strings.Join(msgs, "; ")), errx.KindPermanent, "weaviate query rejected")
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, errx.New(err, errx.KindMalformed, "encode weaviate response")
	}
	var parsed getResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errx.New(err, errx.KindMalformed, "decode weaviate response")
	}

	objects := parsed.Get[x.class]
	matches := make([]model.Match, 0, len(objects))
	for _, o := range objects {
		matches = append(matches, x.toMatch(o, q.IncludeMetadata))
	}
	return matches, nil
}

func (x *Index) toMatch(o object, includeMetadata bool) model.Match {
	m := model.Match{ID: o.SourceID, Score: score(o.Additional)}
	if m.ID == "" {
		m.ID = o.Additional.ID
	}
	if !includeMetadata {
		return m
	}
	m.Metadata = map[string]any{}
	if o.Metadata != "" {
		if err := json.Unmarshal([]byte(o.Metadata), &m.Metadata); err != nil {
			logx.Warn().Err(err).Str("id", m.ID).Msg("ignoring undecodable object metadata")
			m.Metadata = map[string]any{}
		}
	}
	if o.Namespace != "" {
		m.Metadata[propNamespace] = o.Namespace
	}
	return m
}

// score prefers certainty and derives it from cosine distance otherwise.
func score(a additional) float64 {
	switch {
	case a.Certainty != nil:
		return model.ClampUnit(*a.Certainty)
	case a.Distance != nil:
		return model.ClampUnit(1 - *a.Distance/2)
	}
	return 0
}

func buildWhere(q model.VectorQuery) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	if q.Namespace != model.NamespaceNone {
		operands = append(operands, equal(propNamespace, string(q.Namespace)))
	}
	keys := make([]string, 0, len(q.Filter))
	for k := range q.Filter {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		operands = append(operands, equal(k, q.Filter[k]))
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

func equal(path, value string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{path}).
		WithOperator(filters.Equal).
		WithValueText(value)
}

var _ model.VectorIndex = (*Index)(nil)
