package config

// Defaults returns a config that passes Validate. Secrets are left empty;
// "refagent init" writes them as ${OPENAI_API_KEY} and ${NEO4J_PASSWORD}
// references instead.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:           "info",
			DomainsFile:        "domains.yaml",
			MaxIterations:      5,
			MaxParallelTools:   4,
			ToolTimeoutSeconds: 30,
		},
		LLM: LLMConfig{
			ProviderConfig: ProviderConfig{
				Provider: "openai",
				Model:    "gpt-4o-mini",
			},
			MaxTokens:      4096,
			Temperature:    0.2,
			TimeoutSeconds: 120,
			Retry: RetryConfig{
				MaxRetries:         3,
				InitialWaitSeconds: 20,
				MaxWaitSeconds:     120,
			},
		},
		Graph: GraphConfig{
			URI:                 "bolt://localhost:7687",
			Username:            "neo4j",
			Database:            "neo4j",
			QueryTimeoutSeconds: 15,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Transcripts: TranscriptConfig{
			Enabled: false,
			DBPath:  "transcripts.db",
		},
	}
}
