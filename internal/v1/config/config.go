// Package config loads and validates environment configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds validated environment configuration.
type Config struct {
	Port            string
	LogLevel        string
	DevelopmentMode bool

	// Card catalog
	CacheDir              string
	CardAspectRatio       string
	CardLongSide          int
	CardCacheFormat       string
	ExtraImageDirs        []string
	DisableBuiltinImages  bool
	SniffExtensionless    bool
	BuiltinImageDir       string
	DefaultWinPoints      int

	// Rate limits (ulule/limiter formatted, e.g. "100-M")
	RateLimitAPI string
	RateLimitWS  string
}

const (
	defaultPort            = "8081"
	defaultCacheDir        = "~/.cache/talespin"
	defaultAspectRatio     = "2:3"
	defaultLongSide        = 1536
	defaultCacheFormat     = "avif"
	defaultBuiltinImageDir = "./static/assets/cards"
	defaultWinPoints       = 10
)

// Load reads the environment through viper, applies defaults, and validates.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("PORT", defaultPort)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DEVELOPMENT_MODE", false)
	v.SetDefault("TALESPIN_CACHE_DIR", defaultCacheDir)
	v.SetDefault("TALESPIN_CARD_ASPECT_RATIO", defaultAspectRatio)
	v.SetDefault("TALESPIN_CARD_LONG_SIDE", defaultLongSide)
	v.SetDefault("TALESPIN_CARD_CACHE_FORMAT", defaultCacheFormat)
	v.SetDefault("TALESPIN_BUILTIN_IMAGE_DIR", defaultBuiltinImageDir)
	v.SetDefault("TALESPIN_DEFAULT_WIN_POINTS", defaultWinPoints)
	v.SetDefault("RATE_LIMIT_API", "100-M")
	v.SetDefault("RATE_LIMIT_WS", "60-M")

	cfg := &Config{
		Port:                 v.GetString("PORT"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		DevelopmentMode:      v.GetBool("DEVELOPMENT_MODE"),
		CacheDir:             ExpandHome(strings.TrimSpace(v.GetString("TALESPIN_CACHE_DIR"))),
		CardAspectRatio:      v.GetString("TALESPIN_CARD_ASPECT_RATIO"),
		CardLongSide:         v.GetInt("TALESPIN_CARD_LONG_SIDE"),
		CardCacheFormat:      strings.ToLower(strings.TrimSpace(v.GetString("TALESPIN_CARD_CACHE_FORMAT"))),
		ExtraImageDirs:       parseExtraImageDirs(v.GetString("TALESPIN_EXTRA_IMAGE_DIRS")),
		DisableBuiltinImages: envFlagIsY(v.GetString("TALESPIN_DISABLE_BUILTIN_IMAGES_P")),
		SniffExtensionless:   envFlagIsY(v.GetString("TALESPIN_SNIFF_EXTENSIONLESS_IMAGES_P")),
		BuiltinImageDir:      v.GetString("TALESPIN_BUILTIN_IMAGE_DIR"),
		DefaultWinPoints:     v.GetInt("TALESPIN_DEFAULT_WIN_POINTS"),
		RateLimitAPI:         v.GetString("RATE_LIMIT_API"),
		RateLimitWS:          v.GetString("RATE_LIMIT_WS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got %q)", c.Port))
	}

	if _, _, err := ParseAspectRatio(c.CardAspectRatio); err != nil {
		errs = append(errs, fmt.Sprintf("TALESPIN_CARD_ASPECT_RATIO: %v", err))
	}

	if c.CardLongSide < 1 {
		errs = append(errs, fmt.Sprintf("TALESPIN_CARD_LONG_SIDE must be positive (got %d)", c.CardLongSide))
	}

	switch c.CardCacheFormat {
	case "avif", "jpeg", "jpg":
	default:
		errs = append(errs, fmt.Sprintf("TALESPIN_CARD_CACHE_FORMAT must be avif or jpeg (got %q)", c.CardCacheFormat))
	}

	if c.DefaultWinPoints < 1 {
		errs = append(errs, fmt.Sprintf("TALESPIN_DEFAULT_WIN_POINTS must be >= 1 (got %d)", c.DefaultWinPoints))
	}

	if len(errs) > 0 {
		return fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ParseAspectRatio parses a "W:H" ratio string into positive integers.
func ParseAspectRatio(raw string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("ratio must be in W:H form (got %q)", raw)
	}

	w, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || w < 1 {
		return 0, 0, fmt.Errorf("ratio width must be a positive integer (got %q)", parts[0])
	}

	h, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || h < 1 {
		return 0, 0, fmt.Errorf("ratio height must be a positive integer (got %q)", parts[1])
	}

	return w, h, nil
}

// ExpandHome resolves a leading "~" against $HOME.
func ExpandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}

	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}

	return path
}

func parseExtraImageDirs(raw string) []string {
	var dirs []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		dirs = append(dirs, ExpandHome(line))
	}
	return dirs
}

func envFlagIsY(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), "y")
}
