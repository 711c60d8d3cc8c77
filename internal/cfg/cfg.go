package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// LLM providers accepted by -llm-provider.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
)

// Config holds the medbridge-specific settings. It satisfies the go-core
// cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	LLMProvider     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	ClassifierModel string
	EmbeddingModel  string
	ClaudeAPIKey    string
	ClaudeModel     string

	DatabaseURL        string
	MilvusAddress      string
	MilvusAPIKey       string
	DomainCollection   string
	CulturalCollection string

	NEREndpoint     string
	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1")

	fs.StringVar(&c.LLMProvider, "llm-provider", ProviderOpenAI, "LLM provider for triage, translation and summaries (openai|claude)")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "OpenAI API key (chat when llm-provider=openai, embeddings when milvus is set)")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "", "OpenAI-compatible base URL (empty = api.openai.com)")
	fs.StringVar(&c.OpenAIModel, "openai-model", "gpt-4o", "OpenAI chat model for translation and summaries")
	fs.StringVar(&c.ClassifierModel, "classifier-model", "gpt-4o-mini", "OpenAI model for intent classification (ignored for claude)")
	fs.StringVar(&c.EmbeddingModel, "embedding-model", "text-embedding-3-large", "OpenAI embedding model for retrieval queries")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.MilvusAddress, "milvus-address", "", "Milvus address for retrieval (empty = enrichment disabled)")
	fs.StringVar(&c.MilvusAPIKey, "milvus-api-key", "", "Milvus API key or user:password token")
	fs.StringVar(&c.DomainCollection, "domain-collection", "domain", "Milvus collection with medical reference snippets")
	fs.StringVar(&c.CulturalCollection, "cultural-collection", "cultural", "Milvus collection with cultural/linguistic notes")

	fs.StringVar(&c.NEREndpoint, "ner-endpoint", "", "person-name NER service URL (empty = regex names only)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for session-closed notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// API token is required to reach /api/v1
	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required when LLM_PROVIDER=openai"))
		}
		if c.OpenAIModel == "" {
			errs = append(errs, errors.New("OPENAI_MODEL is required when LLM_PROVIDER=openai"))
		}
	case ProviderClaude:
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required when LLM_PROVIDER=claude"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required when LLM_PROVIDER=claude"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid LLM_PROVIDER %q (must be openai or claude)", c.LLMProvider))
	}

	// Retrieval embeds queries with OpenAI regardless of the chat provider
	if c.MilvusAddress != "" {
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required when MILVUS_ADDRESS is set"))
		}
		if c.EmbeddingModel == "" {
			errs = append(errs, errors.New("EMBEDDING_MODEL is required when MILVUS_ADDRESS is set"))
		}
		if c.DomainCollection == "" || c.CulturalCollection == "" {
			errs = append(errs, errors.New("DOMAIN_COLLECTION and CULTURAL_COLLECTION are required when MILVUS_ADDRESS is set"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
