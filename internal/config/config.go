package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Telegram struct {
		Token      string
		APIBaseURL string
		GroupOnly  bool
	}
	Server struct {
		Addr string
	}
	Database struct {
		Path string
	}
	AI struct {
		APIKey       string
		TextURL      string
		ImageURL     string
		Timeout      time.Duration
		MaxTokens    int
		Temperature  float64
		SystemPrompt string
	}
	Download struct {
		ScratchDir  string
		MaxFileSize int64
		Timeout     time.Duration
		MirrorSlots int
		MusicSlots  int
		CookiesFile string
	}
	RateLimit struct {
		Messages int
		Window   time.Duration
	}
	Archive struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Auth struct {
		JWTSecret       string
		AdminPassword   string
		TokenTTLMinutes int
	}
}

const defaultSystemPrompt = "You are a helpful assistant for developers in a Telegram group. " +
	"Keep your answers concise and clear. " +
	"IMPORTANT: Always format your response using Telegram's MarkdownV2 syntax. " +
	"Use *text* for bold, and for code blocks, use triple backticks on their own separate lines, specifying the language."

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("DEVBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.apibaseurl", "")
	v.SetDefault("telegram.grouponly", true)
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("database.path", "data/devbot.db")
	v.SetDefault("ai.apikey", "")
	v.SetDefault("ai.texturl", "https://api.bytez.com/models/v2/Qwen/Qwen3-4B")
	v.SetDefault("ai.imageurl", "https://api.bytez.com/models/v2/stabilityai/stable-diffusion-xl-base-1.0")
	v.SetDefault("ai.timeout", 5*time.Minute)
	v.SetDefault("ai.maxtokens", 2048)
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.systemprompt", defaultSystemPrompt)
	v.SetDefault("download.scratchdir", os.TempDir())
	v.SetDefault("download.maxfilesize", int64(2*1024*1024*1024))
	v.SetDefault("download.timeout", 24*time.Hour)
	v.SetDefault("download.mirrorslots", 2)
	v.SetDefault("download.musicslots", 4)
	v.SetDefault("download.cookiesfile", "")
	v.SetDefault("ratelimit.messages", 10)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.keyprefix", "devbot-mirrors")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.adminpassword", "")
	v.SetDefault("auth.tokenttlminutes", 60)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Telegram.Token == "" {
		return Config{}, fmt.Errorf("telegram token is required")
	}

	return cfg, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
