package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Agent backends selectable through AGENT_MODE.
const (
	AgentModeTools  = "tools"
	AgentModeDirect = "direct"
)

type Config struct {
	TableName         string
	ParamPrefix       string
	HistoryWindow     int
	EraseCommand      string
	AgentMode         string
	MaxAgentSteps     int
	Model             string
	ModerationEnabled bool
}

// LoadConfig reads the process configuration from the environment. Files
// named in envFiles are loaded first when present; they never override
// variables that are already set.
func LoadConfig(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("app: load %s: %w", f, err)
		}
	}

	cfg := Config{
		TableName:         strings.TrimSpace(os.Getenv("APP_TABLE_NAME")),
		ParamPrefix:       envString("PARAM_PREFIX", "/line-chat-relay"),
		HistoryWindow:     envInt("HISTORY_WINDOW", 6),
		EraseCommand:      envString("ERASE_COMMAND", "EXIT"),
		AgentMode:         envString("AGENT_MODE", AgentModeTools),
		MaxAgentSteps:     envInt("MAX_AGENT_STEPS", 5),
		Model:             envString("OPENAI_MODEL", "gpt-4"),
		ModerationEnabled: envBool("MODERATION_ENABLED", false),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.TableName == "" {
		return errors.New("app: APP_TABLE_NAME is not set")
	}
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("app: HISTORY_WINDOW must be positive, got %d", c.HistoryWindow)
	}
	switch c.AgentMode {
	case AgentModeTools, AgentModeDirect:
	default:
		return fmt.Errorf("app: unknown AGENT_MODE %q", c.AgentMode)
	}
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid integer environment variable", "key", key, "value", v)
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring invalid boolean environment variable", "key", key, "value", v)
		return def
	}
	return b
}
