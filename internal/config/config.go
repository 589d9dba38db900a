package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	KindSequential = "sequential"
	KindPush       = "push"
	KindTranscript = "transcript"
	KindRemote     = "remote"

	ModeSync     = "sync"
	ModeDeferred = "deferred"
)

// Profile describes one stream: which source feeds it and how it is paced.
// Limit and HighWaterMark are pointers because 0 is a meaningful value for
// both; nil means "not set". A Profile returned by Resolve has both set.
type Profile struct {
	Kind          string   `json:"kind" yaml:"kind"`
	Mode          string   `json:"mode" yaml:"mode"`
	Limit         *int     `json:"limit" yaml:"limit"`
	HighWaterMark *float64 `json:"high_water_mark" yaml:"high_water_mark"`

	// push
	Count     int    `json:"count" yaml:"count"`
	Interval  string `json:"interval" yaml:"interval"`
	ChunkSize int    `json:"chunk_size" yaml:"chunk_size"`

	// transcript
	Path string `json:"path" yaml:"path"`

	// remote
	Addr string `json:"addr" yaml:"addr"`
}

// Config is the root configuration file structure.
type Config struct {
	Profiles map[string]Profile `json:"profiles" yaml:"profiles"`
}

// Load reads a configuration file. ".yaml"/".yml" files are parsed as YAML,
// everything else as JSON. ${VAR} and ${VAR:-default} are substituted from
// the environment first.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	content := []byte(substituteEnvVars(string(b)))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	}
	return cfg, nil
}

// LoadEnvFiles loads .env files that exist, in order. Variables already set
// in the environment win.
func LoadEnvFiles(paths []string) ([]string, error) {
	var loaded []string
	for _, p := range paths {
		p = ExpandUser(p)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return loaded, fmt.Errorf("load env file %s: %w", p, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		if v := os.Getenv(sub[1]); v != "" {
			return v
		}
		return sub[2]
	})
}

// SelectProfile returns the profile for a given name.
func SelectProfile(cfg Config, name string) (Profile, bool) {
	if cfg.Profiles == nil {
		return Profile{}, false
	}
	p, ok := cfg.Profiles[name]
	return p, ok
}

// OnlyProfile returns the single configured profile if there is exactly one.
func OnlyProfile(cfg Config) (string, Profile, bool) {
	if len(cfg.Profiles) != 1 {
		return "", Profile{}, false
	}
	for k, v := range cfg.Profiles {
		return k, v, true
	}
	return "", Profile{}, false
}

// ExpandUser performs a basic expansion of a leading ~ to the user's home dir.
func ExpandUser(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	// ~user is not supported
	if path[1] != '/' && path[1] != '\\' {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Overrides are CLI values that take precedence over the selected profile.
// Empty strings leave the profile untouched; Limit and HighWaterMark use a
// negative value for "unset". Start from NoOverrides.
type Overrides struct {
	Kind          string
	Mode          string
	Limit         int
	HighWaterMark float64
	Path          string
	Addr          string
}

// NoOverrides leaves every profile field as configured.
func NoOverrides() Overrides {
	return Overrides{Limit: -1, HighWaterMark: -1}
}

func ptr[T any](v T) *T { return &v }

// Defaults is the profile used when no config file names one.
func Defaults() Profile {
	return Profile{
		Kind:          KindSequential,
		Mode:          ModeSync,
		Limit:         ptr(10),
		HighWaterMark: ptr(1.0),
		Interval:      "23ms",
		ChunkSize:     128,
	}
}

// Resolve picks the profile named profileName (or the only one), lays it
// over Defaults, applies overrides and validates the result.
func Resolve(cfg Config, profileName string, o Overrides) (Profile, error) {
	p := Defaults()
	if profileName != "" {
		sel, ok := SelectProfile(cfg, profileName)
		if !ok {
			return Profile{}, fmt.Errorf("profile %q not found in config", profileName)
		}
		p = merge(p, sel)
	} else if _, only, ok := OnlyProfile(cfg); ok {
		p = merge(p, only)
	}

	if o.Kind != "" {
		p.Kind = o.Kind
	}
	if o.Mode != "" {
		p.Mode = o.Mode
	}
	if o.Limit >= 0 {
		p.Limit = ptr(o.Limit)
	}
	if o.HighWaterMark >= 0 {
		p.HighWaterMark = ptr(o.HighWaterMark)
	}
	if o.Path != "" {
		p.Path = o.Path
	}
	if o.Addr != "" {
		p.Addr = o.Addr
	}
	p.Path = ExpandUser(p.Path)

	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func merge(base, over Profile) Profile {
	if over.Kind != "" {
		base.Kind = over.Kind
	}
	if over.Mode != "" {
		base.Mode = over.Mode
	}
	if over.Limit != nil {
		base.Limit = ptr(*over.Limit)
	}
	if over.HighWaterMark != nil {
		base.HighWaterMark = ptr(*over.HighWaterMark)
	}
	if over.Count != 0 {
		base.Count = over.Count
	}
	if over.Interval != "" {
		base.Interval = over.Interval
	}
	if over.ChunkSize != 0 {
		base.ChunkSize = over.ChunkSize
	}
	if over.Path != "" {
		base.Path = over.Path
	}
	if over.Addr != "" {
		base.Addr = over.Addr
	}
	return base
}

// Validate checks that the profile can build a source.
func (p Profile) Validate() error {
	var errs []error
	switch p.Kind {
	case KindSequential, KindPush:
	case KindTranscript:
		if p.Path == "" {
			errs = append(errs, errors.New("transcript profile needs a path"))
		}
	case KindRemote:
		if p.Addr == "" {
			errs = append(errs, errors.New("remote profile needs an addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source kind %q", p.Kind))
	}
	if p.Mode != ModeSync && p.Mode != ModeDeferred {
		errs = append(errs, fmt.Errorf("unknown mode %q (want %s or %s)", p.Mode, ModeSync, ModeDeferred))
	}
	if p.Limit != nil && *p.Limit < 0 {
		errs = append(errs, fmt.Errorf("limit must be >= 0, got %d", *p.Limit))
	}
	if hwm := p.HighWaterMark; hwm != nil && (*hwm < 0 || math.IsNaN(*hwm) || math.IsInf(*hwm, 0)) {
		errs = append(errs, fmt.Errorf("high_water_mark must be a finite number >= 0, got %v", *hwm))
	}
	if _, err := p.IntervalDuration(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// IntervalDuration parses the push interval.
func (p Profile) IntervalDuration() (time.Duration, error) {
	if p.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.Interval)
	if err != nil {
		return 0, fmt.Errorf("interval %q: %w", p.Interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval %q: must be positive", p.Interval)
	}
	return d, nil
}

// DefaultConfigPaths returns preferred config file locations to check
// when the -config flag is not provided.
// Order of preference:
//  1. $XDG_CONFIG_HOME/.stream-gate/config.{json,yaml}
//  2. $XDG_CONFIG_HOME/stream-gate/config.{json,yaml}
//  3. ~/.config/.stream-gate/config.{json,yaml}
//  4. ~/.config/stream-gate/config.{json,yaml}
func DefaultConfigPaths() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs,
			filepath.Join(xdg, ".stream-gate"),
			filepath.Join(xdg, "stream-gate"),
		)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		base := filepath.Join(home, ".config")
		dirs = append(dirs,
			filepath.Join(base, ".stream-gate"),
			filepath.Join(base, "stream-gate"),
		)
	}

	var paths []string
	for _, d := range dirs {
		paths = append(paths, filepath.Join(d, "config.json"), filepath.Join(d, "config.yaml"))
	}
	return paths
}

// FindExistingDefaultConfig returns the first existing config file among
// DefaultConfigPaths. If none exist, ok is false.
func FindExistingDefaultConfig() (path string, ok bool) {
	for _, p := range DefaultConfigPaths() {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, true
		}
	}
	return "", false
}
