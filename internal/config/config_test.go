package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_MaxConcurrentMessages(t *testing.T) {
	cfg := Defaults()
	cfg.General.MaxConcurrentMessages = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxConcurrentMessages=0")
	}
	cfg.General.MaxConcurrentMessages = 100
	if err := Validate(cfg); err != nil {
		t.Fatalf("maxConcurrentMessages=100 should be valid: %v", err)
	}
}

func TestValidate_ClassifierTimeoutBounds(t *testing.T) {
	for _, tc := range []struct {
		secs int
		ok   bool
	}{{4, false}, {5, true}, {8, true}, {9, false}} {
		cfg := Defaults()
		cfg.LLM.ClassifierTimeoutSeconds = tc.secs
		err := Validate(cfg)
		if (err == nil) != tc.ok {
			t.Errorf("classifierTimeoutSeconds=%d: ok=%v, err=%v", tc.secs, tc.ok, err)
		}
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestValidate_RedisNeedsURL(t *testing.T) {
	cfg := Defaults()
	cfg.State.Backend = "redis"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for redis without url")
	}
	cfg.State.RedisURL = "redis://localhost:6379/0"
	if err := Validate(cfg); err != nil {
		t.Fatalf("redis with url should be valid: %v", err)
	}
}

func TestValidate_UnknownBackend(t *testing.T) {
	cfg := Defaults()
	cfg.State.Backend = "etcd"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestValidate_EnabledChannelsNeedTokens(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Discord.Enabled = true
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors for channels without tokens")
	}
	for _, want := range []string{"channels.telegram.token", "channels.discord.token"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestValidate_WhatsAppNeedsHTTP(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.WhatsApp.Enabled = true
	cfg.Channels.WhatsApp.AccessToken = "token"
	cfg.Channels.WhatsApp.PhoneNumberID = "123"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error: whatsapp without http server")
	}
	cfg.HTTP.Enabled = true
	if err := Validate(cfg); err != nil {
		t.Fatalf("whatsapp with http should be valid: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Media.FetchAttempts = 0
	cfg.Media.MaxOutputMB = 0
	cfg.Media.AudioBitrateKbps = 1000
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	if n := strings.Count(err.Error(), "\n  - "); n != 3 {
		t.Errorf("expected 3 collected errors, got %d: %v", n, err)
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.General.WakePhrase = "hey-bot"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.General.WakePhrase != "hey-bot" {
		t.Fatalf("expected 'hey-bot', got %q", loaded.General.WakePhrase)
	}
}

func TestLoadSave_YAMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	original := Defaults()
	original.Media.MaxOutputMB = 50
	original.Channels.Telegram.AllowFrom = FlexStringList{"42"}

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		t.Fatal("expected YAML output, got JSON")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Media.MaxOutputMB != 50 {
		t.Errorf("expected maxOutputMB=50, got %d", loaded.Media.MaxOutputMB)
	}
	if len(loaded.Channels.Telegram.AllowFrom) != 1 || loaded.Channels.Telegram.AllowFrom[0] != "42" {
		t.Errorf("unexpected allowFrom: %v", loaded.Channels.Telegram.AllowFrom)
	}
}

func TestLoad_YAMLCamelCaseKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `
general:
  wakePhrase: yo-bot
  replyCooldownSeconds: 7
channels:
  telegram:
    allowFrom: [123, "456"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.General.WakePhrase != "yo-bot" || cfg.General.ReplyCooldown() != 7*time.Second {
		t.Errorf("unexpected general section: %+v", cfg.General)
	}
	if got := cfg.Channels.Telegram.AllowFrom; len(got) != 2 || got[0] != "123" || got[1] != "456" {
		t.Errorf("unexpected allowFrom: %v", got)
	}
	// Unset keys keep their defaults.
	if cfg.Media.FetchAttempts != 3 {
		t.Errorf("expected default fetchAttempts, got %d", cfg.Media.FetchAttempts)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"state": {
			"backend": "cassandra"
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for unknown backend")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_MEDIABOT_WORKDIR", "/tmp/test-work")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"general": {
			"workDir": "${TEST_MEDIABOT_WORKDIR}",
			"wakePhrase": "${TEST_MEDIABOT_WAKE:-megh}"
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.WorkDir != "/tmp/test-work" {
		t.Fatalf("expected workDir '/tmp/test-work', got %q", cfg.General.WorkDir)
	}
	if cfg.General.WakePhrase != "megh" {
		t.Fatalf("expected default wake phrase 'megh', got %q", cfg.General.WakePhrase)
	}
}

// --- Env overrides ---

func TestApplyEnv_BareAndPrefixedNames(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-bare")
	t.Setenv("MEDIABOT_TELEGRAM_TOKEN", "tg-prefixed")
	t.Setenv("TELEGRAM_TOKEN", "tg-bare")

	cfg := Defaults()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.LLM.APIKey != "sk-bare" {
		t.Errorf("expected bare name to apply, got %q", cfg.LLM.APIKey)
	}
	if cfg.Channels.Telegram.Token != "tg-prefixed" {
		t.Errorf("expected prefixed name to win, got %q", cfg.Channels.Telegram.Token)
	}
}

func TestApplyEnv_UnsetKeepsFileValue(t *testing.T) {
	os.Unsetenv("REDIS_URL")
	os.Unsetenv("MEDIABOT_REDIS_URL")

	cfg := Defaults()
	cfg.State.RedisURL = "redis://file:6379"
	if err := ApplyEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.State.RedisURL != "redis://file:6379" {
		t.Errorf("expected file value to survive, got %q", cfg.State.RedisURL)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "general.wakePhrase")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "mediabot" {
		t.Fatalf("expected 'mediabot', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "llm.chatModel", "openai/gpt-4o-mini"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.LLM.ChatModel != "openai/gpt-4o-mini" {
		t.Fatalf("expected model to change, got %q", cfg.LLM.ChatModel)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "ledger.enabled", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if cfg.Ledger.Enabled {
		t.Fatal("expected ledger.enabled=false")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "media.maxOutputMB", "50"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Media.MaxOutputMB != 50 {
		t.Fatalf("expected 50, got %d", cfg.Media.MaxOutputMB)
	}
	if cfg.Media.MaxOutputBytes() != 50<<20 {
		t.Fatalf("unexpected byte limit %d", cfg.Media.MaxOutputBytes())
	}
}

func TestSetByPath_Rejects(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "nosuch.key", "1"); err == nil {
		t.Error("expected error for unknown section")
	}
	if err := SetByPath(cfg, "media.fetchAttempts", "many"); err == nil {
		t.Error("expected error for type mismatch")
	}
	if cfg.Media.FetchAttempts != 3 {
		t.Errorf("failed set must leave config untouched, got %d", cfg.Media.FetchAttempts)
	}
}

func TestGetByPath_ListIndex(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.FallbackModels = []string{"a", "b"}
	val, err := GetByPath(cfg, "llm.fallbackModels.1")
	if err != nil || val != "b" {
		t.Fatalf("got %v, %v", val, err)
	}
	if _, err := GetByPath(cfg, "llm.fallbackModels.5"); err == nil {
		t.Error("expected index error")
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.LLM.APIKey = "sk-or-1234567890abcdefghijklmnop"

	sanitized := Sanitize(cfg)

	if sanitized.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if sanitized.LLM.APIKey == cfg.LLM.APIKey {
		t.Fatal("API key should be masked")
	}
	// Verify original is untouched
	if cfg.Channels.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Channels.Telegram.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Channels.Telegram.Token)
	}
}

func TestSanitize_MasksWhatsAppSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.WhatsApp.AppSecret = "whatsapp-secret-12345678"
	cfg.Channels.WhatsApp.AccessToken = "whatsapp-token-12345678"
	sanitized := Sanitize(cfg)

	if sanitized.Channels.WhatsApp.AppSecret == cfg.Channels.WhatsApp.AppSecret {
		t.Fatal("WhatsApp appSecret should be masked")
	}
	if sanitized.Channels.WhatsApp.AccessToken == cfg.Channels.WhatsApp.AccessToken {
		t.Fatal("WhatsApp accessToken should be masked")
	}
}

func TestSanitize_MasksRedisPassword(t *testing.T) {
	cfg := Defaults()
	cfg.State.RedisURL = "redis://:hunter2@cache:6379/0"
	sanitized := Sanitize(cfg)

	if strings.Contains(sanitized.State.RedisURL, "hunter2") {
		t.Fatalf("redis password leaked: %s", sanitized.State.RedisURL)
	}
	if !strings.Contains(sanitized.State.RedisURL, "cache:6379") {
		t.Fatalf("host should stay visible: %s", sanitized.State.RedisURL)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	// Check some known paths exist
	for _, expected := range []string{"general.workDir", "general.logLevel", "ledger.enabled", "media.fetchAttempts"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	input := `["hello", 123, "world", 456.0]`
	var list FlexStringList
	if err := json.Unmarshal([]byte(input), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list))
	}
	if list[0] != "hello" || list[2] != "world" {
		t.Fatal("string items mismatch")
	}
	if list[1] != "123" || list[3] != "456" {
		t.Fatalf("number conversion mismatch: %v", list)
	}
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var list FlexStringList
	err := json.Unmarshal([]byte(`not json`), &list)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	result := ExpandEnvVars(`{"apiKey": "${TEST_API_KEY}"}`)
	expected := `{"apiKey": "sk-abc123"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"port": "${NONEXISTENT_VAR_12345:-8080}"}`)
	expected := `{"port": "8080"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

// --- Defaults ---

func TestDefaults_MatchDocumentedPolicy(t *testing.T) {
	cfg := Defaults()
	if cfg.Media.FetchAttempts != 3 || cfg.Media.FetchTimeout() != 15*time.Second || cfg.Media.FetchBackoff() != time.Second {
		t.Errorf("unexpected fetch policy: %+v", cfg.Media)
	}
	if cfg.Media.MaxOutputBytes() != 100<<20 {
		t.Errorf("unexpected output ceiling: %d", cfg.Media.MaxOutputBytes())
	}
	if cfg.General.HistoryLimit != 20 || cfg.General.ReplyCooldown() != 5*time.Second {
		t.Errorf("unexpected reply defaults: %+v", cfg.General)
	}
	if cfg.LLM.ClassifierTimeout() != 8*time.Second {
		t.Errorf("unexpected classifier timeout: %v", cfg.LLM.ClassifierTimeout())
	}
}
