package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			MaxSteps: 5,
			Timezone: "America/New_York",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Gateway: GatewayConfig{
			APIBase:     "http://localhost:11434/v1",
			Model:       "llama3.1:8b",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Store: StoreConfig{
			DBPath: "~/.tradedesk/tradedesk.db",
		},
		Upload: UploadConfig{
			MaxFileBytes: 10 << 20,
			SheetName:    "products",
		},
		Guard: GuardConfig{
			DailyLimit: 5,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				Enabled:     false,
				WebhookPath: "/webhook/whatsapp",
			},
			Slack: SlackConfig{
				Enabled:     false,
				WebhookPath: "/webhook/slack",
			},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
