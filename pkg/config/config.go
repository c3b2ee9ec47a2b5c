package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

type AgentConfig struct {
	ID           string   `json:"id" env:"AGENTCONNECT_AGENT_ID"`
	Name         string   `json:"name" env:"AGENTCONNECT_AGENT_NAME"`
	Capabilities []string `json:"capabilities" env:"AGENTCONNECT_AGENT_CAPABILITIES"`
	// EnablePayments toggles the payment capability flag advertised to
	// peers. Settlement itself is out of scope.
	EnablePayments bool `json:"enable_payments" env:"AGENTCONNECT_AGENT_ENABLE_PAYMENTS"`
}

type InteractionConfig struct {
	MaxTokensPerMinute int `json:"max_tokens_per_minute" env:"AGENTCONNECT_MAX_TOKENS_PER_MINUTE"`
	MaxTokensPerHour   int `json:"max_tokens_per_hour" env:"AGENTCONNECT_MAX_TOKENS_PER_HOUR"`
	MaxTurns           int `json:"max_turns" env:"AGENTCONNECT_MAX_TURNS"`
	// MinCooldownSeconds floors the cooldown computed from budget overage.
	MinCooldownSeconds int `json:"min_cooldown_seconds" env:"AGENTCONNECT_MIN_COOLDOWN_SECONDS"`
}

type WorkflowConfig struct {
	TimeoutSeconds      int     `json:"timeout_seconds" env:"AGENTCONNECT_WORKFLOW_TIMEOUT_SECONDS"`
	MaxRetries          int     `json:"max_retries" env:"AGENTCONNECT_WORKFLOW_MAX_RETRIES"`
	ContextResetSeconds int     `json:"context_reset_seconds" env:"AGENTCONNECT_CONTEXT_RESET_SECONDS"`
	TopicThreshold      float64 `json:"topic_threshold" env:"AGENTCONNECT_TOPIC_THRESHOLD"`
}

type LLMConfig struct {
	Model   string `json:"model" env:"AGENTCONNECT_LLM_MODEL"`
	APIKey  string `json:"api_key" env:"AGENTCONNECT_LLM_API_KEY"`
	BaseURL string `json:"base_url" env:"AGENTCONNECT_LLM_BASE_URL"`
}

type TransportConfig struct {
	ListenAddr string `json:"listen_addr" env:"AGENTCONNECT_TRANSPORT_LISTEN_ADDR"`
	HubURL     string `json:"hub_url" env:"AGENTCONNECT_TRANSPORT_HUB_URL"`
}

type StoreConfig struct {
	Path string `json:"path" env:"AGENTCONNECT_STORE_PATH"`
}

type Config struct {
	Agent       AgentConfig       `json:"agent"`
	Interaction InteractionConfig `json:"interaction"`
	Workflow    WorkflowConfig    `json:"workflow"`
	LLM         LLMConfig         `json:"llm"`
	Transport   TransportConfig   `json:"transport"`
	Store       StoreConfig       `json:"store"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			ID:   "",
			Name: "agent",
		},
		Interaction: InteractionConfig{
			MaxTokensPerMinute: 5500,
			MaxTokensPerHour:   100000,
			MaxTurns:           20,
			MinCooldownSeconds: 5,
		},
		Workflow: WorkflowConfig{
			TimeoutSeconds:      180,
			MaxRetries:          2,
			ContextResetSeconds: 1800,
			TopicThreshold:      0.3,
		},
		Transport: TransportConfig{
			ListenAddr: "127.0.0.1:18890",
		},
		Store: StoreConfig{
			Path: "~/.agentconnect/agent.db",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if perr := env.Parse(cfg); perr != nil {
				return nil, perr
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// StorePath resolves the store path with ~ expansion.
func (c *Config) StorePath() string {
	return expandHome(c.Store.Path)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
