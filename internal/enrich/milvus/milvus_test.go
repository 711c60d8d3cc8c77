package milvus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/linnemanlabs/medbridge/internal/enrich"
)

type mockEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return []float32{0.1, 0.2}, nil
}

type mockIndex struct {
	mu       sync.Mutex
	records  map[string][]Record
	errs     map[string]error
	searched []string
	topK     map[string]int
}

func (m *mockIndex) Search(_ context.Context, collection string, _ []float32, topK int, _ []string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searched = append(m.searched, collection)
	if m.topK == nil {
		m.topK = map[string]int{}
	}
	m.topK[collection] = topK
	if err := m.errs[collection]; err != nil {
		return nil, err
	}
	return m.records[collection], nil
}

var testCfg = Config{DomainCollection: "domain", CulturalCollection: "cultural"}

func TestRetrieve_BothCollections(t *testing.T) {
	t.Parallel()

	idx := &mockIndex{records: map[string][]Record{
		"domain":   {{FieldContent: "Angina is chest pain caused by reduced blood flow.", FieldSource: "who.pdf", FieldLanguage: "en"}},
		"cultural": {{FieldContent: "दिल बैठना means feeling faint or anxious"}},
	}}
	emb := &mockEmbedder{}

	got, err := New(idx, emb, testCfg).Retrieve(context.Background(), "seene mein dard", enrich.ScopeAll)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got.Domain) != 1 || got.Domain[0] != "[who.pdf | en] Angina is chest pain caused by reduced blood flow." {
		t.Errorf("domain = %q", got.Domain)
	}
	if len(got.Cultural) != 1 || !strings.HasPrefix(got.Cultural[0], "दिल बैठना") {
		t.Errorf("cultural = %q", got.Cultural)
	}
	if emb.calls != 1 {
		t.Errorf("embed calls = %d, want 1", emb.calls)
	}
	if idx.topK["domain"] != 4 || idx.topK["cultural"] != 3 {
		t.Errorf("topK = %v, want domain 4 cultural 3", idx.topK)
	}
}

func TestRetrieve_CulturalOnlySkipsDomain(t *testing.T) {
	t.Parallel()

	idx := &mockIndex{records: map[string][]Record{"cultural": {{FieldContent: "namaste is a greeting"}}}}
	got, err := New(idx, &mockEmbedder{}, testCfg).Retrieve(context.Background(), "namaste", enrich.ScopeCulturalOnly)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(idx.searched) != 1 || idx.searched[0] != "cultural" {
		t.Errorf("searched = %v, want [cultural]", idx.searched)
	}
	if len(got.Domain) != 0 || len(got.Cultural) != 1 {
		t.Errorf("context = %+v", got)
	}
}

func TestRetrieve_BlankQuery(t *testing.T) {
	t.Parallel()

	idx := &mockIndex{}
	emb := &mockEmbedder{}
	got, err := New(idx, emb, testCfg).Retrieve(context.Background(), "   ", enrich.ScopeAll)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if emb.calls != 0 || len(idx.searched) != 0 {
		t.Error("blank query should not embed or search")
	}
	if got.Domain == nil || got.Cultural == nil {
		t.Error("lists should be empty, not nil")
	}
}

func TestRetrieve_EmbedFailure(t *testing.T) {
	t.Parallel()

	idx := &mockIndex{}
	got, err := New(idx, &mockEmbedder{err: errors.New("quota")}, testCfg).Retrieve(context.Background(), "fever", enrich.ScopeAll)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(got.Domain) != 0 || len(got.Cultural) != 0 {
		t.Errorf("context = %+v, want empty", got)
	}
	if len(idx.searched) != 0 {
		t.Error("should not search after embed failure")
	}
}

func TestRetrieve_PartialFailure(t *testing.T) {
	t.Parallel()

	idx := &mockIndex{
		records: map[string][]Record{"cultural": {{FieldContent: "ok"}}},
		errs:    map[string]error{"domain": errors.New("collection not loaded")},
	}
	got, err := New(idx, &mockEmbedder{}, testCfg).Retrieve(context.Background(), "fever", enrich.ScopeAll)
	if err == nil {
		t.Fatal("expected error reporting the domain failure")
	}
	if len(got.Domain) != 0 {
		t.Errorf("domain = %v, want empty", got.Domain)
	}
	if len(got.Cultural) != 1 {
		t.Errorf("cultural = %v, want 1 snippet", got.Cultural)
	}
}

func TestFormatDomain(t *testing.T) {
	t.Parallel()

	got := formatDomain([]Record{
		{FieldSource: "a.pdf"},
		{},
		{FieldContent: "plain text"},
		{FieldContent: "hindi text", FieldLanguage: "hi"},
	})
	want := []string{
		"(No text) from a.pdf",
		"(No text) from unknown source",
		"plain text",
		"[ | hi] hindi text",
	}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFormatCultural_FieldFallback(t *testing.T) {
	t.Parallel()

	got := formatCultural([]Record{
		{FieldExpression: "पेट में चूहे दौड़ना", FieldLiteral: "rats running in stomach", FieldClinical: "very hungry", FieldRiskFlag: "false"},
		{},
	})
	if len(got) != 1 {
		t.Fatalf("got %q, want 1 snippet", got)
	}
	want := "Expression: पेट में चूहे दौड़ना | Literal: rats running in stomach | Clinical: very hungry | Risk flag: false"
	if got[0] != want {
		t.Errorf("got %q, want %q", got[0], want)
	}
}
