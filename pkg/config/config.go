package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the sales-assistant backend.
type Config struct {
	Server       ServerConfig                 `yaml:"server"`
	Logging      LoggingConfig                `yaml:"logging"`
	LLM          LLMConfig                    `yaml:"llm"`
	Embedder     EmbedderConfig               `yaml:"embedder"`
	RAG          RAGConfig                    `yaml:"rag"`
	Memory       MemoryConfig                 `yaml:"memory"`
	ToolServers  map[string]*ToolServerConfig `yaml:"tool_servers"`
	Agents       map[string]*AgentConfig      `yaml:"agents"`
	Orchestrator OrchestratorConfig           `yaml:"orchestrator"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// LLMConfig selects the response-composition provider. With an empty API key
// the deterministic template provider is used.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Host        string  `yaml:"host,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Timeout     int     `yaml:"timeout,omitempty"`
}

type EmbedderConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	Host      string `yaml:"host,omitempty"`
	Dimension int    `yaml:"dimension,omitempty"`
	BatchSize int    `yaml:"batch_size,omitempty"`
	Timeout   int    `yaml:"timeout,omitempty"`
}

type RAGConfig struct {
	KnowledgeDir string `yaml:"knowledge_dir"`
	PersistPath  string `yaml:"persist_path,omitempty"`
	Collection   string `yaml:"collection"`
	DefaultTopK  int    `yaml:"default_top_k"`

	// ChunkSize/ChunkOverlap are in words.
	ChunkSize    int  `yaml:"chunk_size"`
	ChunkOverlap int  `yaml:"chunk_overlap"`
	WatchDir     bool `yaml:"watch_dir"`
}

type MemoryConfig struct {
	Backend string `yaml:"backend"` // "sqlite" or "memory"
	Path    string `yaml:"path,omitempty"`
}

// ToolServerConfig describes one entry in the tool-server registry.
// Local servers (knowledge, memory, research, fileingest) are wired in code;
// remote entries dispatch over HTTP JSON-RPC or a stdio subprocess.
type ToolServerConfig struct {
	Type      string            `yaml:"type"` // "local", "http", "stdio"
	URL       string            `yaml:"url,omitempty"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	TimeoutMs int               `yaml:"timeout_ms,omitempty"`

	// Operations declares the operations a remote server accepts. Requests
	// are validated with an open schema; the remote end enforces its own.
	Operations []string `yaml:"operations,omitempty"`

	// Health thresholds: consecutive failures before DEGRADED / DOWN.
	DegradedThreshold int `yaml:"degraded_threshold,omitempty"`
	DownThreshold     int `yaml:"down_threshold,omitempty"`
	HeartbeatMs       int `yaml:"heartbeat_ms,omitempty"`
}

type AgentConfig struct {
	Enabled   *bool    `yaml:"enabled,omitempty"`
	Tools     []string `yaml:"tools,omitempty"`
	TopK      int      `yaml:"top_k,omitempty"`
	TimeoutMs int      `yaml:"timeout_ms,omitempty"`
}

type OrchestratorConfig struct {
	TurnTimeoutMs    int    `yaml:"turn_timeout_ms,omitempty"`
	MaxContextTokens int    `yaml:"max_context_tokens,omitempty"`
	FallbackReply    string `yaml:"fallback_reply,omitempty"`
}

const DefaultFallbackReply = "I'm sorry, I wasn't able to process that just now. Could you try again in a moment?"

func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
	if c.LLM.Provider == "" {
		if c.LLM.APIKey != "" {
			c.LLM.Provider = "openai"
		} else {
			c.LLM.Provider = "template"
		}
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 400
	}
	if c.Embedder.Provider == "" {
		c.Embedder.Provider = "hash"
	}
	if c.RAG.KnowledgeDir == "" {
		c.RAG.KnowledgeDir = "./knowledge"
	}
	if c.RAG.Collection == "" {
		c.RAG.Collection = "fleetworthy_knowledge"
	}
	if c.RAG.DefaultTopK <= 0 {
		c.RAG.DefaultTopK = 5
	}
	if c.RAG.ChunkSize <= 0 {
		c.RAG.ChunkSize = 500
	}
	if c.RAG.ChunkOverlap < 0 {
		c.RAG.ChunkOverlap = 0
	}
	if c.RAG.ChunkSize > 0 && c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = 50
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = "memory"
	}
	if c.Orchestrator.TurnTimeoutMs <= 0 {
		c.Orchestrator.TurnTimeoutMs = 60000
	}
	if c.Orchestrator.MaxContextTokens <= 0 {
		c.Orchestrator.MaxContextTokens = 1500
	}
	if c.Orchestrator.FallbackReply == "" {
		c.Orchestrator.FallbackReply = DefaultFallbackReply
	}

	for _, ts := range c.ToolServers {
		ts.SetDefaults()
	}
}

func (ts *ToolServerConfig) SetDefaults() {
	if ts.Type == "" {
		ts.Type = "local"
	}
	if ts.TimeoutMs <= 0 {
		ts.TimeoutMs = 30000
	}
	if ts.DegradedThreshold <= 0 {
		ts.DegradedThreshold = 3
	}
	if ts.DownThreshold <= 0 {
		ts.DownThreshold = 5
	}
	if ts.HeartbeatMs <= 0 {
		ts.HeartbeatMs = 15000
	}
}

func (c *Config) Validate() error {
	switch c.Memory.Backend {
	case "sqlite":
		if c.Memory.Path == "" {
			return fmt.Errorf("memory.path is required for sqlite backend")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid memory backend: %q", c.Memory.Backend)
	}

	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap (%d) must be less than rag.chunk_size (%d)",
			c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}

	for name, ts := range c.ToolServers {
		switch ts.Type {
		case "local":
		case "http":
			if ts.URL == "" {
				return fmt.Errorf("tool server %q: url is required for http type", name)
			}
			if len(ts.Operations) == 0 {
				return fmt.Errorf("tool server %q: operations are required for http type", name)
			}
		case "stdio":
			if ts.Command == "" {
				return fmt.Errorf("tool server %q: command is required for stdio type", name)
			}
			if len(ts.Operations) == 0 {
				return fmt.Errorf("tool server %q: operations are required for stdio type", name)
			}
		default:
			return fmt.Errorf("tool server %q: invalid type %q", name, ts.Type)
		}
	}

	return nil
}

// Load reads a YAML config file, expands environment references, applies
// defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes with env expansion.
func Parse(data []byte) (*Config, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expanded := ExpandEnvVarsInData(raw)

	// Round-trip through YAML to decode into the typed config.
	normalized, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(normalized, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Default returns a zero-config setup suitable for local development: hash
// embedder, in-memory conversation store, all four local tool servers, all
// three agents.
func Default() *Config {
	cfg := &Config{
		ToolServers: map[string]*ToolServerConfig{
			"sales-knowledge": {Type: "local"},
			"memory":          {Type: "local"},
			"company-research": {
				Type:      "local",
				TimeoutMs: 45000,
			},
			"file-processing": {Type: "local"},
		},
		Agents: map[string]*AgentConfig{
			"sales":     {Tools: []string{"sales-knowledge", "memory"}},
			"research":  {Tools: []string{"company-research", "memory"}},
			"knowledge": {Tools: []string{"sales-knowledge"}},
		},
	}
	cfg.SetDefaults()
	return cfg
}
