package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ApplyEnvOverrides forcefully overrides cfg fields with environment variables
// when the corresponding env vars are set. This lets env take precedence over
// a config file while flags remain highest precedence.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&cfg.InputDir, "INPUT_DIR")
	setString(&cfg.OutputDir, "OUTPUT_DIR")
	setString(&cfg.WorkDir, "WORK_DIR")
	setString(&cfg.Languages, "OCR_LANGS")
	setString(&cfg.Engine, "OCR_ENGINE")
	setString(&cfg.PdftoppmPath, "PDFTOPPM_PATH")
	setString(&cfg.MagickPath, "MAGICK_PATH")
	setString(&cfg.LLMBaseURL, "LLM_BASE_URL")
	setString(&cfg.LLMModel, "LLM_MODEL")
	setString(&cfg.LLMAPIKey, "LLM_API_KEY")
	setString(&cfg.CacheDir, "CACHE_DIR")
	setString(&cfg.SummaryPath, "SUMMARY_PATH")

	setInt := func(dst *int, key string) {
		if n, ok := envInt(key); ok {
			*dst = n
		}
	}
	setInt(&cfg.DPI, "DPI")
	setInt(&cfg.TargetWidth, "TARGET_WIDTH")
	setInt(&cfg.MaxPages, "MAX_PAGES")
	setInt(&cfg.PSM, "OCR_PSM")

	if f, ok := envFloat("OCR_MIN_CONFIDENCE"); ok {
		cfg.MinConfidence = f
	}
	if s := strings.TrimSpace(os.Getenv("CACHE_MAX_AGE")); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.CacheMaxAge = d
		} else {
			warnIgnoredEnv("CACHE_MAX_AGE", s, err)
		}
	}

	// Booleans override when env present and truthy/falsey
	setBool := func(dst *bool, key string) {
		if v, ok := envBool(key); ok {
			*dst = v
		}
	}
	setBool(&cfg.GPU, "GPU")
	setBool(&cfg.Verbose, "VERBOSE")
	setBool(&cfg.CacheClear, "CACHE_CLEAR")
	setBool(&cfg.CacheStrictPerms, "CACHE_STRICT_PERMS")
}

func envInt(key string) (int, bool) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		warnIgnoredEnv(key, s, err)
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		warnIgnoredEnv(key, s, err)
		return 0, false
	}
	return f, true
}

// envBool accepts 1/true/yes/on and 0/false/no/off. Anything else, including
// an unset variable, reports ok=false.
func envBool(key string) (value, ok bool) {
	s := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch s {
	case "":
		return false, false
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	warnIgnoredEnv(key, s, nil)
	return false, false
}

// warnIgnoredEnv reports an environment value that could not be parsed and
// was therefore ignored.
func warnIgnoredEnv(key, value string, err error) {
	ev := log.Warn().Str("var", key).Str("value", value)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("ignoring malformed environment value")
}
