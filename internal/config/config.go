package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Report sinks for ReportExternally resources.
const (
	ReportSinkDB  = "db"
	ReportSinkLog = "log"
)

// Config holds daemon paths, listener settings and definition file locations.
type Config struct {
	ConfigPath    string
	RunDir        string
	SocketPath    string
	DataDir       string
	DBPath        string
	ResourcesPath string
	// BoostPaths are loaded in order, followed by every yaml file in BoostsDir.
	BoostPaths    []string
	BoostsDir     string
	NodeRoot      string
	DryRun        bool
	MetricsListen string
	LogLevel      string
	LogFormat     string
	ReportSink    string
	Journal       bool
}

// FileConfig represents supported YAML config overrides.
type FileConfig struct {
	RunDir        string   `yaml:"run_dir"`
	SocketPath    string   `yaml:"socket_path"`
	DataDir       string   `yaml:"data_dir"`
	DBPath        string   `yaml:"db_path"`
	ResourcesPath string   `yaml:"resources_path"`
	BoostPaths    []string `yaml:"boost_paths"`
	BoostsDir     string   `yaml:"boosts_dir"`
	NodeRoot      string   `yaml:"node_root"`
	DryRun        *bool    `yaml:"dry_run"`
	MetricsListen string   `yaml:"metrics_listen"`
	LogLevel      string   `yaml:"log_level"`
	LogFormat     string   `yaml:"log_format"`
	ReportSink    string   `yaml:"report_sink"`
	Journal       *bool    `yaml:"journal"`
}

func DefaultConfig() Config {
	dataDir := "/var/lib/boostd"
	runDir := "/run/boostd"
	return Config{
		ConfigPath:    "/etc/boostd/config.yaml",
		RunDir:        runDir,
		SocketPath:    filepath.Join(runDir, "boostd.sock"),
		DataDir:       dataDir,
		DBPath:        filepath.Join(dataDir, "boostd.db"),
		ResourcesPath: "/etc/boostd/resources.yaml",
		BoostsDir:     "/etc/boostd/boosts.d",
		NodeRoot:      "/",
		LogLevel:      "info",
		LogFormat:     "json",
		ReportSink:    ReportSinkDB,
		Journal:       true,
	}
}

// Load reads the YAML config file and applies overrides to defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		cfg.ConfigPath = path
	}
	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", cfg.ConfigPath, err)
	}
	var fileCfg FileConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", cfg.ConfigPath, err)
	}
	applyFileConfig(&cfg, fileCfg)
	if fileCfg.DataDir != "" && fileCfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "boostd.db")
	}
	if fileCfg.RunDir != "" && fileCfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(cfg.RunDir, "boostd.sock")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFileConfig(cfg *Config, fileCfg FileConfig) {
	if fileCfg.RunDir != "" {
		cfg.RunDir = fileCfg.RunDir
	}
	if fileCfg.SocketPath != "" {
		cfg.SocketPath = fileCfg.SocketPath
	}
	if fileCfg.DataDir != "" {
		cfg.DataDir = fileCfg.DataDir
	}
	if fileCfg.DBPath != "" {
		cfg.DBPath = fileCfg.DBPath
	}
	if fileCfg.ResourcesPath != "" {
		cfg.ResourcesPath = fileCfg.ResourcesPath
	}
	if len(fileCfg.BoostPaths) > 0 {
		cfg.BoostPaths = append([]string(nil), fileCfg.BoostPaths...)
	}
	if fileCfg.BoostsDir != "" {
		cfg.BoostsDir = fileCfg.BoostsDir
	}
	if fileCfg.NodeRoot != "" {
		cfg.NodeRoot = fileCfg.NodeRoot
	}
	if fileCfg.DryRun != nil {
		cfg.DryRun = *fileCfg.DryRun
	}
	if fileCfg.MetricsListen != "" {
		cfg.MetricsListen = fileCfg.MetricsListen
	}
	if fileCfg.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(fileCfg.LogLevel)
	}
	if fileCfg.LogFormat != "" {
		cfg.LogFormat = strings.ToLower(fileCfg.LogFormat)
	}
	if fileCfg.ReportSink != "" {
		cfg.ReportSink = strings.ToLower(fileCfg.ReportSink)
	}
	if fileCfg.Journal != nil {
		cfg.Journal = *fileCfg.Journal
	}
}

// NeedsDB reports whether the daemon has to open the sqlite store.
func (c Config) NeedsDB() bool {
	return c.Journal || c.ReportSink == ReportSinkDB
}

// Validate performs basic validation of paths and listener settings.
func (c Config) Validate() error {
	if c.ConfigPath == "" {
		return fmt.Errorf("config_path is required")
	}
	if c.RunDir == "" {
		return fmt.Errorf("run_dir is required")
	}
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path is required")
	}
	if c.ResourcesPath == "" {
		return fmt.Errorf("resources_path is required")
	}
	if c.BoostsDir == "" && len(c.BoostPaths) == 0 {
		return fmt.Errorf("boosts_dir or boost_paths is required")
	}
	if c.NodeRoot == "" {
		return fmt.Errorf("node_root is required")
	}
	switch c.ReportSink {
	case ReportSinkDB, ReportSinkLog:
	default:
		return fmt.Errorf("report_sink must be %q or %q (got %q)", ReportSinkDB, ReportSinkLog, c.ReportSink)
	}
	if c.NeedsDB() && c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error (got %q)", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log_format must be json or console (got %q)", c.LogFormat)
	}
	if strings.TrimSpace(c.MetricsListen) != "" {
		host, _, err := net.SplitHostPort(c.MetricsListen)
		if err != nil {
			return fmt.Errorf("metrics_listen must be host:port: %w", err)
		}
		if !isLoopbackHost(host) {
			return fmt.Errorf("metrics_listen must be localhost-only (got %q)", host)
		}
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
