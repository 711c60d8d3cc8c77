// Package milvus implements enrich.Gateway over two Milvus collections, one
// with medical reference chunks and one with cultural expressions.
package milvus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus/client/v2/entity"
	client "github.com/milvus-io/milvus/client/v2/milvusclient"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/medbridge/internal/enrich"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medbridge/internal/enrich/milvus")

// Field names in both collections.
const (
	FieldEmbedding  = "embedding"
	FieldContent    = "content"
	FieldSource     = "source"
	FieldLanguage   = "language"
	FieldExpression = "expression"
	FieldLiteral    = "literal_translation"
	FieldClinical   = "clinical_meaning"
	FieldCategory   = "category"
	FieldRiskFlag   = "risk_flag"
	FieldGuidance   = "guidance"
)

const (
	snippetWidth       = 400
	snippetPlaceholder = " ..."
)

var (
	domainFields   = []string{FieldContent, FieldSource, FieldLanguage}
	culturalFields = []string{FieldContent, FieldExpression, FieldLiteral, FieldClinical, FieldCategory, FieldRiskFlag, FieldGuidance}
)

// Record is one search hit keyed by output field name.
type Record map[string]string

// Index runs a top-k vector search against a collection.
type Index interface {
	Search(ctx context.Context, collection string, vector []float32, topK int, fields []string) ([]Record, error)
}

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config names the collections and result sizes.
type Config struct {
	DomainCollection   string
	CulturalCollection string
	DomainTopK         int
	CulturalTopK       int
}

// Gateway implements enrich.Gateway.
type Gateway struct {
	index    Index
	embedder Embedder
	cfg      Config
}

// New creates a Gateway. Zero top-k values default to 4 (domain) and 3 (cultural).
func New(index Index, embedder Embedder, cfg Config) *Gateway {
	if cfg.DomainTopK <= 0 {
		cfg.DomainTopK = 4
	}
	if cfg.CulturalTopK <= 0 {
		cfg.CulturalTopK = 3
	}
	return &Gateway{index: index, embedder: embedder, cfg: cfg}
}

// Retrieve embeds query once and searches the collections selected by scope.
// A failed embedding yields two empty lists; a failed collection search
// yields an empty list for that collection only.
func (g *Gateway) Retrieve(ctx context.Context, query string, scope enrich.Scope) (enrich.Context, error) {
	out := enrich.Context{Domain: []string{}, Cultural: []string{}}
	if strings.TrimSpace(query) == "" {
		return out, nil
	}

	ctx, span := tracer.Start(ctx, "enrich.Retrieve", trace.WithAttributes(
		attribute.String("enrich.scope", scope.String()),
	))
	defer span.End()

	vec, err := g.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, fmt.Errorf("embed query: %w", err)
	}

	var errs []error
	if scope == enrich.ScopeAll {
		recs, err := g.index.Search(ctx, g.cfg.DomainCollection, vec, g.cfg.DomainTopK, domainFields)
		if err != nil {
			errs = append(errs, fmt.Errorf("search %s: %w", g.cfg.DomainCollection, err))
		} else {
			out.Domain = formatDomain(recs)
		}
	}

	recs, err := g.index.Search(ctx, g.cfg.CulturalCollection, vec, g.cfg.CulturalTopK, culturalFields)
	if err != nil {
		errs = append(errs, fmt.Errorf("search %s: %w", g.cfg.CulturalCollection, err))
	} else {
		out.Cultural = formatCultural(recs)
	}

	span.SetAttributes(
		attribute.Int("enrich.domain_count", len(out.Domain)),
		attribute.Int("enrich.cultural_count", len(out.Cultural)),
	)
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	return out, nil
}

func formatDomain(recs []Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		src, lang := r[FieldSource], r[FieldLanguage]
		text := r[FieldContent]
		if text == "" {
			if src == "" {
				src = "unknown source"
			}
			out = append(out, "(No text) from "+src)
			continue
		}
		prefix := ""
		if src != "" || lang != "" {
			prefix = fmt.Sprintf("[%s | %s] ", src, lang)
		}
		out = append(out, prefix+enrich.Shorten(text, snippetWidth, snippetPlaceholder))
	}
	return out
}

// formatCultural prefers the precomputed content field and otherwise builds
// a snippet from the structured expression fields.
func formatCultural(recs []Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		if text := r[FieldContent]; text != "" {
			out = append(out, enrich.Shorten(text, snippetWidth, snippetPlaceholder))
			continue
		}
		var parts []string
		add := func(label, field string) {
			if v := r[field]; v != "" {
				parts = append(parts, label+": "+v)
			}
		}
		add("Expression", FieldExpression)
		add("Literal", FieldLiteral)
		add("Clinical", FieldClinical)
		add("Category", FieldCategory)
		add("Risk flag", FieldRiskFlag)
		add("Guidance", FieldGuidance)
		if len(parts) > 0 {
			out = append(out, enrich.Shorten(strings.Join(parts, " | "), snippetWidth, snippetPlaceholder))
		}
	}
	return out
}

// ClientIndex adapts a Milvus client to Index.
type ClientIndex struct {
	client    *client.Client
	annsField string
}

// Dial connects to Milvus at addr.
func Dial(ctx context.Context, addr, apiKey string) (*ClientIndex, error) {
	c, err := client.New(ctx, &client.ClientConfig{
		Address: addr,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("milvus connect: %w", err)
	}
	return &ClientIndex{client: c, annsField: FieldEmbedding}, nil
}

// Close releases the client connection.
func (m *ClientIndex) Close(ctx context.Context) error {
	return m.client.Close(ctx)
}

// Search implements Index. A missing collection returns no records.
func (m *ClientIndex) Search(ctx context.Context, collection string, vector []float32, topK int, fields []string) ([]Record, error) {
	ok, err := m.client.HasCollection(ctx, client.NewHasCollectionOption(collection))
	if err != nil {
		return nil, fmt.Errorf("has collection: %w", err)
	}
	if !ok {
		return nil, nil
	}

	opt := client.NewSearchOption(collection, topK, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(m.annsField).
		WithOutputFields(fields...)

	sets, err := m.client.Search(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(sets) == 0 {
		return nil, nil
	}

	set := sets[0]
	recs := make([]Record, set.ResultCount)
	for i := range recs {
		recs[i] = Record{}
	}
	for _, f := range fields {
		col := set.GetColumn(f)
		if col == nil {
			continue
		}
		for i := 0; i < len(recs) && i < col.Len(); i++ {
			if v, err := col.GetAsString(i); err == nil {
				recs[i][f] = v
			} else if b, err := col.GetAsBool(i); err == nil {
				recs[i][f] = strconv.FormatBool(b)
			}
		}
	}
	return recs, nil
}
