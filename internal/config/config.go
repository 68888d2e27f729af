// Package config provides configuration types and loading for deepthinks.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Server, Providers, Models, Memory, Tools,
// MailAgent, Notify.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Server    ServerConfig    `json:"server"`
	Providers ProvidersConfig `json:"providers"`
	Models    ModelsConfig    `json:"models"`
	Memory    MemoryConfig    `json:"memory"`
	Tools     ToolsConfig     `json:"tools"`
	MailAgent MailAgentConfig `json:"mailAgent"`
	Notify    NotifyConfig    `json:"notify"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
}

// ---------------------------------------------------------------------------
// Server – HTTP surface
// ---------------------------------------------------------------------------

// ServerConfig groups HTTP server settings.
type ServerConfig struct {
	Listen string `json:"listen" envconfig:"LISTEN"`
	// AnonymousRequestLimit is how many chat turns an unauthenticated
	// session may run before being told to sign in.
	AnonymousRequestLimit int `json:"anonymousRequestLimit" envconfig:"ANONYMOUS_REQUEST_LIMIT"`
	// InactivityShutdownMinutes stops the process after this many idle
	// minutes. Zero disables the monitor.
	InactivityShutdownMinutes int `json:"inactivityShutdownMinutes" envconfig:"INACTIVITY_SHUTDOWN_MINUTES"`
}

// ---------------------------------------------------------------------------
// Providers – LLM API keys & endpoints
// ---------------------------------------------------------------------------

// ProvidersConfig contains LLM provider configurations.
type ProvidersConfig struct {
	Together ProviderConfig `json:"together"`
	Search   ProviderConfig `json:"search"`
	// Google carries the OAuth client used to refresh mailbox tokens.
	Google GoogleConfig `json:"google"`
}

// GoogleConfig is the OAuth client for Gmail access.
type GoogleConfig struct {
	ClientID     string `json:"clientId" envconfig:"CLIENT_ID"`
	ClientSecret string `json:"clientSecret" envconfig:"CLIENT_SECRET"`
}

// ProviderConfig contains settings for a single upstream API.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
}

// ---------------------------------------------------------------------------
// Models – which model serves which response mode
// ---------------------------------------------------------------------------

// ModelsConfig maps response modes to model identifiers.
type ModelsConfig struct {
	Default    string `json:"default" envconfig:"DEFAULT"`
	Reason     string `json:"reason" envconfig:"REASON"`
	Code       string `json:"code" envconfig:"CODE"`
	Summarizer string `json:"summarizer" envconfig:"SUMMARIZER"`
	MailAgent  string `json:"mailAgent" envconfig:"MAIL_AGENT"`
}

// ForMode returns the model serving the given response mode.
func (m ModelsConfig) ForMode(mode string) string {
	switch mode {
	case "reason":
		return m.Reason
	case "code":
		return m.Code
	default:
		return m.Default
	}
}

// ---------------------------------------------------------------------------
// Memory – token-aware summarization
// ---------------------------------------------------------------------------

// MemoryConfig groups the summarization trigger knobs.
type MemoryConfig struct {
	MaxContextTokens             int     `json:"maxContextTokens" envconfig:"MAX_CONTEXT_TOKENS"`
	MinInteractionsBeforeSummary int     `json:"minInteractionsBeforeSummary" envconfig:"MIN_INTERACTIONS_BEFORE_SUMMARY"`
	MaxInteractionsLimit         int     `json:"maxInteractionsLimit" envconfig:"MAX_INTERACTIONS_LIMIT"`
	SmoothingFactor              float64 `json:"smoothingFactor" envconfig:"SMOOTHING_FACTOR"`
	SafetyMargin                 float64 `json:"safetyMargin" envconfig:"SAFETY_MARGIN"`
}

// ---------------------------------------------------------------------------
// Tools – continuation loop bounds
// ---------------------------------------------------------------------------

// ToolsConfig groups tool-loop settings.
type ToolsConfig struct {
	MaxToolCallsPerInteraction int `json:"maxToolCallsPerInteraction" envconfig:"MAX_TOOL_CALLS_PER_INTERACTION"`
	// ResultTopN and ResultContentChars bound the compressed projection of
	// a raw tool result before it re-enters a prompt.
	ResultTopN         int `json:"resultTopN" envconfig:"RESULT_TOP_N"`
	ResultContentChars int `json:"resultContentChars" envconfig:"RESULT_CONTENT_CHARS"`
}

// ---------------------------------------------------------------------------
// MailAgent – email sub-agent bounds
// ---------------------------------------------------------------------------

// MailAgentConfig groups the email sub-agent's loop and wait bounds.
type MailAgentConfig struct {
	MaxIterations       int `json:"maxIterations" envconfig:"MAX_ITERATIONS"`
	AuthWaitSeconds     int `json:"authWaitSeconds" envconfig:"AUTH_WAIT_SECONDS"`
	ApprovalWaitSeconds int `json:"approvalWaitSeconds" envconfig:"APPROVAL_WAIT_SECONDS"`
	// HistoryExchanges is how many recent exchanges the decision step may
	// pull into the sub-agent's context.
	HistoryExchanges int `json:"historyExchanges" envconfig:"HISTORY_EXCHANGES"`
}

// AuthWait returns the bounded mailbox-authorization wait.
func (c MailAgentConfig) AuthWait() time.Duration {
	return time.Duration(c.AuthWaitSeconds) * time.Second
}

// ApprovalWait returns the bounded send-approval wait.
func (c MailAgentConfig) ApprovalWait() time.Duration {
	return time.Duration(c.ApprovalWaitSeconds) * time.Second
}

// ---------------------------------------------------------------------------
// Notify – push mirrors
// ---------------------------------------------------------------------------

// NotifyConfig contains notification mirror settings. The websocket gateway
// is always on; the Slack and Kafka mirrors are opt-in.
type NotifyConfig struct {
	Slack SlackMirrorConfig `json:"slack"`
	Kafka KafkaMirrorConfig `json:"kafka"`
}

// SlackMirrorConfig mirrors agent progress events into a Slack channel.
type SlackMirrorConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken string `json:"botToken" envconfig:"BOT_TOKEN"`
	Channel  string `json:"channel" envconfig:"CHANNEL"`
}

// KafkaMirrorConfig mirrors turn traces onto a Kafka topic.
type KafkaMirrorConfig struct {
	Enabled bool     `json:"enabled" envconfig:"ENABLED"`
	Brokers []string `json:"brokers" envconfig:"BROKERS"`
	Topic   string   `json:"topic" envconfig:"TOPIC"`
}

// DefaultConfig returns a config populated with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:                    ":8080",
			AnonymousRequestLimit:     2,
			InactivityShutdownMinutes: 15,
		},
		Providers: ProvidersConfig{
			Together: ProviderConfig{APIBase: "https://api.together.xyz/v1"},
			Search:   ProviderConfig{APIBase: "https://api.tavily.com"},
		},
		Models: ModelsConfig{
			Default:    "Qwen/Qwen3-235B-A22B-Instruct-2507-tput",
			Reason:     "Qwen/Qwen3-235B-A22B-Thinking-2507",
			Code:       "Qwen/Qwen3-Coder-480B-A35B-Instruct-FP8",
			Summarizer: "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free",
			MailAgent:  "meta-llama/Llama-3.3-70B-Instruct-Turbo",
		},
		Memory: MemoryConfig{
			MaxContextTokens:             10000,
			MinInteractionsBeforeSummary: 3,
			MaxInteractionsLimit:         50,
			SmoothingFactor:              0.8,
			SafetyMargin:                 0.9,
		},
		Tools: ToolsConfig{
			MaxToolCallsPerInteraction: 5,
			ResultTopN:                 3,
			ResultContentChars:         300,
		},
		MailAgent: MailAgentConfig{
			MaxIterations:       10,
			AuthWaitSeconds:     120,
			ApprovalWaitSeconds: 60,
			HistoryExchanges:    10,
		},
		Notify: NotifyConfig{
			Kafka: KafkaMirrorConfig{Topic: "deepthinks.traces"},
		},
	}
}
