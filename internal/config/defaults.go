package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			DBPath:   "~/.leadwire/leadwire.db",
		},
		Providers: ProvidersConfig{
			Order:          []string{"twilio"},
			TimeoutSeconds: 5,
			Breaker: BreakerConfig{
				WindowSize:          20,
				MinSamples:          5,
				FailureThreshold:    0.5,
				ResetTimeoutSeconds: 30,
			},
			Twilio: TwilioConfig{
				Enabled:    true,
				AccountSID: "${TWILIO_ACCOUNT_SID}",
				AuthToken:  "${TWILIO_AUTH_TOKEN}",
				From:       "${TWILIO_FROM}",
				APIBase:    "https://api.twilio.com/2010-04-01",
			},
			Vonage: VonageConfig{
				Enabled:   false,
				APIKey:    "${VONAGE_API_KEY}",
				APISecret: "${VONAGE_API_SECRET}",
				From:      "${VONAGE_FROM}",
				APIBase:   "https://rest.nexmo.com",
			},
		},
		Queue: QueueConfig{
			Concurrency:      5,
			MaxRetries:       3,
			BaseDelaySeconds: 2,
			MaxDelaySeconds:  300,
			PollIntervalMS:   500,
		},
		Webhook: WebhookConfig{
			Host:    "0.0.0.0",
			Port:    8081,
			Secrets: map[string]string{
				"twilio": "${TWILIO_WEBHOOK_SECRET}",
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		RateLimit: RateLimitConfig{
			CallerPerMinute:    60,
			RecipientPerMinute: 6,
		},
		Engagement: EngagementConfig{
			AIProcessingSLAMS:       500,
			AgentResponseSLASeconds: 300,
		},
	}
}
