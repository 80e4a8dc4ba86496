package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			WorkDir:               "~/.mediabot/work",
			LogLevel:              "info",
			MaxConcurrentMessages: 8,
			WakePhrase:            "mediabot",
			ReplyCooldownSeconds:  5,
			SystemPromptPath:      "~/.mediabot/system_prompt.txt",
			PromptPollSeconds:     10,
			HistoryLimit:          20,
			OrphanMaxAgeMinutes:   60,
		},
		LLM: LLMConfig{
			APIBase:                  "https://openrouter.ai/api/v1",
			ClassifierModel:          "meta-llama/llama-3.3-70b-instruct",
			ChatModel:                "meta-llama/llama-3.3-70b-instruct",
			ClassifierTimeoutSeconds: 8,
			RequestTimeoutSeconds:    60,
			AppTitle:                 "mediabot",
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				WebhookPath: "/webhook/whatsapp",
			},
			CLI: CLIConfig{
				Enabled:   true,
				OutboxDir: "~/.mediabot/outbox",
			},
		},
		State: StateConfig{
			Backend: "memory",
		},
		Media: MediaConfig{
			FetchAttempts:       3,
			FetchTimeoutSeconds: 15,
			FetchBackoffMillis:  1000,
			MaxOutputMB:         100,
			AudioBitrateKbps:    128,
			JPEGQuality:         95,
		},
		Ledger: LedgerConfig{
			Enabled:       true,
			DBPath:        "~/.mediabot/jobs.db",
			RetentionDays: 30,
		},
		HTTP: HTTPConfig{
			Enabled:     false,
			Addr:        "127.0.0.1:8080",
			MetricsPath: "/metrics",
		},
	}
}
