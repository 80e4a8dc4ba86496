package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// envOverrides are read as MEDIABOT_<NAME>, falling back to the bare <NAME>.
type envOverrides struct {
	LogLevel            string `envconfig:"LOG_LEVEL"`
	APIKey              string `envconfig:"OPENROUTER_API_KEY"`
	TelegramToken       string `envconfig:"TELEGRAM_TOKEN"`
	DiscordToken        string `envconfig:"DISCORD_TOKEN"`
	WhatsAppAccessToken string `envconfig:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppAppSecret   string `envconfig:"WHATSAPP_APP_SECRET"`
	WhatsAppVerifyToken string `envconfig:"WHATSAPP_VERIFY_TOKEN"`
	RedisURL            string `envconfig:"REDIS_URL"`
}

// ApplyEnv overrides secrets and a few operational settings from the
// environment. Unset variables leave the file values alone.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("mediabot", &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	override(&cfg.General.LogLevel, env.LogLevel)
	override(&cfg.LLM.APIKey, env.APIKey)
	override(&cfg.Channels.Telegram.Token, env.TelegramToken)
	override(&cfg.Channels.Discord.Token, env.DiscordToken)
	override(&cfg.Channels.WhatsApp.AccessToken, env.WhatsAppAccessToken)
	override(&cfg.Channels.WhatsApp.AppSecret, env.WhatsAppAppSecret)
	override(&cfg.Channels.WhatsApp.VerifyToken, env.WhatsAppVerifyToken)
	override(&cfg.State.RedisURL, env.RedisURL)
	return nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
