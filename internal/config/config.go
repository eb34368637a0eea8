// Package config loads the immutable configuration snapshot every
// pipeline component is constructed from: steps, detector settings,
// and the acronym whitelist.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/gonkalabs/ttsmd/internal/pipeline"
)

// Config is the frozen snapshot passed by reference to every
// component; nothing reloads it mid-run.
type Config struct {
	Steps            []pipeline.Step
	Endpoint         string
	Model            string
	RequestTimeout   time.Duration
	MaxRetries       int
	AcronymWhitelist map[string]struct{}
	EllipsisForm     string
	Verbose          bool
}

// Defaults mirrored from spec.md §4.10/§4.11.
const (
	defaultRequestTimeout = 8 * time.Second
	defaultMaxRetries     = 1
	defaultEllipsisForm   = "..."
)

// Load reads .env (if present, best-effort) then environment
// variables, applies the given CLI flag overrides, and returns a
// validated Config.
func Load(stepsCSV, endpoint, model, whitelistPath, ellipsisForm string, verbose bool) (*Config, error) {
	_ = godotenv.Load()

	if stepsCSV == "" {
		stepsCSV = strings.TrimSpace(os.Getenv("TTSMD_STEPS"))
	}
	if stepsCSV == "" {
		stepsCSV = "mask,prepass-basic,prepass-advanced"
	}
	steps, err := pipeline.ParseSteps(stepsCSV)
	if err != nil {
		return nil, err
	}

	if endpoint == "" {
		endpoint = strings.TrimSpace(os.Getenv("TTSMD_ENDPOINT"))
	}
	if model == "" {
		model = strings.TrimSpace(os.Getenv("TTSMD_MODEL"))
	}

	timeout := defaultRequestTimeout
	if raw := strings.TrimSpace(os.Getenv("TTSMD_REQUEST_TIMEOUT")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			timeout = d
		}
	}

	retries := defaultMaxRetries
	if raw := strings.TrimSpace(os.Getenv("TTSMD_MAX_RETRIES")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			retries = n
		}
	}

	if ellipsisForm == "" {
		ellipsisForm = strings.TrimSpace(os.Getenv("TTSMD_ELLIPSIS_FORM"))
	}
	if ellipsisForm == "" {
		ellipsisForm = defaultEllipsisForm
	}

	if whitelistPath == "" {
		whitelistPath = strings.TrimSpace(os.Getenv("TTSMD_ACRONYM_WHITELIST"))
	}
	whitelist, err := loadWhitelist(whitelistPath)
	if err != nil {
		return nil, err
	}

	verboseRaw := strings.TrimSpace(os.Getenv("TTSMD_VERBOSE"))
	verbose = verbose || verboseRaw == "1" || strings.EqualFold(verboseRaw, "true")

	return &Config{
		Steps:            steps,
		Endpoint:         endpoint,
		Model:            model,
		RequestTimeout:   timeout,
		MaxRetries:       retries,
		AcronymWhitelist: whitelist,
		EllipsisForm:     ellipsisForm,
		Verbose:          verbose,
	}, nil
}

// loadWhitelist reads a plain-text acronym list, one token per line,
// '#'-prefixed comments and blank lines ignored. An empty path yields
// an empty (non-nil) whitelist rather than an error.
func loadWhitelist(path string) (map[string]struct{}, error) {
	whitelist := make(map[string]struct{})
	if path == "" {
		return whitelist, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: acronym whitelist: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		whitelist[strings.ToLower(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: acronym whitelist: %w", err)
	}
	return whitelist, nil
}
