package config

// Config holds every runtime setting of the Live Memory service. Values come
// from defaults overridden by environment variables; names match the
// deployment's .env contract (S3_ENDPOINT_URL, LLMAAS_API_URL, ...).
type Config struct {
	// MCP server
	ServerName string `koanf:"mcp_server_name"`
	Host       string `koanf:"mcp_server_host"`
	Port       int    `koanf:"mcp_server_port"    validate:"min=1,max=65535"`
	Debug      bool   `koanf:"mcp_server_debug"`
	// Externally visible base URL for the SSE endpoint event. Empty means
	// http://{host}:{port} as seen by the client.
	PublicBaseURL string `koanf:"mcp_public_base_url"`

	// Auth
	AdminBootstrapKey string `koanf:"admin_bootstrap_key"`

	// S3 (Dell ECS flavoured; dual-signature, see engine/storage)
	S3EndpointURL     string `koanf:"s3_endpoint_url"`
	S3AccessKeyID     string `koanf:"s3_access_key_id"`
	S3SecretAccessKey string `koanf:"s3_secret_access_key"`
	S3BucketName      string `koanf:"s3_bucket_name"      validate:"required"`
	S3RegionName      string `koanf:"s3_region_name"`

	// LLMaaS (OpenAI-compatible; the URL already includes /v1)
	LLMAPIURL      string  `koanf:"llmaas_api_url"`
	LLMAPIKey      string  `koanf:"llmaas_api_key"`
	LLMModel       string  `koanf:"llmaas_model"`
	LLMMaxTokens   int     `koanf:"llmaas_max_tokens"   validate:"min=1"`
	LLMTemperature float64 `koanf:"llmaas_temperature"  validate:"gte=0,lte=2"`

	// Consolidation
	ConsolidationTimeout  int `koanf:"consolidation_timeout"   validate:"min=1"`
	ConsolidationMaxNotes int `koanf:"consolidation_max_notes" validate:"min=1"`
}

// Default returns the configuration the service starts with before any
// environment override is applied.
func Default() *Config {
	return &Config{
		ServerName:            "Live Memory",
		Host:                  "0.0.0.0",
		Port:                  8002,
		Debug:                 false,
		PublicBaseURL:         "",
		AdminBootstrapKey:     "change_me_in_production",
		S3EndpointURL:         "",
		S3AccessKeyID:         "",
		S3SecretAccessKey:     "",
		S3BucketName:          "live-mem",
		S3RegionName:          "fr1",
		LLMAPIURL:             "",
		LLMAPIKey:             "",
		LLMModel:              "qwen3-2507:235b",
		LLMMaxTokens:          100000,
		LLMTemperature:        0.3,
		ConsolidationTimeout:  600,
		ConsolidationMaxNotes: 500,
	}
}

// LLMConfigured reports whether the consolidation LLM can be called.
func (c *Config) LLMConfigured() bool {
	return c.LLMAPIURL != "" && c.LLMAPIKey != ""
}

// S3Configured reports whether the object store credentials are present.
func (c *Config) S3Configured() bool {
	return c.S3EndpointURL != "" && c.S3AccessKeyID != ""
}
