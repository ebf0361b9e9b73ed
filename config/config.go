// Package config holds the explicit configuration struct that the Design
// Notes (§9) call for in place of the original's global singleton for the
// database directory and logger: {backend_dir, db_dir or in-memory,
// log_sink}, loaded from YAML.
package config

import (
	"io/ioutil"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Config is the single explicit parameter the lifecycle controller needs to
// be constructed; nothing else is read from process-global state.
type Config struct {
	// BackendDir is the directory beneath which named backend plug-ins are
	// located (§4.8 loading rules).
	BackendDir string `yaml:"backend_dir"`

	// PluginPrefix/PluginSuffix implement the "fixed prefix/suffix scheme"
	// of §4.8 ("The file is located beneath a configured plug-in directory
	// with a fixed prefix/suffix scheme").
	PluginPrefix string `yaml:"plugin_prefix"`
	PluginSuffix string `yaml:"plugin_suffix"`

	// DBDir is the directory in which `pulley_<hash>.sqlite3` files are
	// created (§4.5 step 1). Empty means an in-memory store.
	DBDir string `yaml:"db_dir"`

	// LedgerPath is the boltdb file recording script-load history for
	// dump_state(); empty disables the ledger.
	LedgerPath string `yaml:"ledger_path"`

	// LogLevel is parsed with logrus.ParseLevel; empty means logrus.InfoLevel.
	LogLevel string `yaml:"log_level"`

	// TokenFile, if set, points at a JSON file of hashed bearer tokens
	// (auth.NewNativeFile) guarding cmd/pulleyd's verb surface. Empty means
	// no authentication (auth.None).
	TokenFile string `yaml:"token_file"`

	// Log is the sink every component logs through. Not serialized; set by
	// Load after parsing LogLevel, or injected directly by callers that
	// build a Config by hand (e.g. tests).
	Log logrus.FieldLogger `yaml:"-"`
}

// Default returns a Config usable for tests: an in-memory database, no
// backend directory, and a logger that discards output.
func Default() Config {
	log := logrus.New()
	log.SetOutput(ioutil.Discard)
	return Config{
		PluginPrefix: "lib",
		PluginSuffix: ".so",
		Log:          log,
	}
}

// Load reads a YAML configuration file and fills in defaults for anything
// left unset, including building the Log sink from LogLevel.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	raw, err := ioutil.ReadAll(f)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}

	log := logrus.New()
	if cfg.LogLevel != "" {
		lvl, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return Config{}, err
		}
		log.SetLevel(lvl)
	}
	cfg.Log = log

	if cfg.PluginPrefix == "" {
		cfg.PluginPrefix = "lib"
	}
	if cfg.PluginSuffix == "" {
		cfg.PluginSuffix = ".so"
	}

	return cfg, nil
}
