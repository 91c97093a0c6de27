// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btclog"
	"github.com/btcsuite/electrumx/cache"
	"github.com/btcsuite/electrumx/electrumx"
	eclog "github.com/btcsuite/electrumx/internal/log"
	"github.com/btcsuite/electrumx/transport"
	"github.com/go-playground/validator/v10"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

const (
	defaultConfigFilename = "electrumxctl.conf"
	defaultEnvFile        = ".env"
	defaultChain          = "evrmore"
	defaultCacheDriver    = "leveldb"
	defaultLogLevel       = "info"
	defaultTimeout        = transport.DefaultTimeout
)

var (
	electrumxctlHomeDir = btcutil.AppDataDir("electrumxctl", false)
	defaultConfigFile   = filepath.Join(electrumxctlHomeDir, defaultConfigFilename)
	defaultCacheDir     = filepath.Join(electrumxctlHomeDir, "cache")
)

// config defines the configuration options for electrumxctl.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion   bool          `short:"V" long:"version" description:"Display version information and exit"`
	ListCommands  bool          `short:"l" long:"listcommands" description:"List all of the supported commands and exit"`
	ConfigFile    string        `short:"C" long:"configfile" description:"Path to configuration file"`
	Servers       []string      `short:"s" long:"server" env:"ELECTRUMX_SERVER" env-delim:"," description:"ElectrumX server to connect to ([tcp|ssl|ws|wss://]host[:port]) -- May be repeated; later servers are used when earlier ones fail" validate:"required,min=1,dive,required"`
	Chain         string        `long:"chain" env:"ELECTRUMX_CHAIN" description:"Network of the server {evrmore, ravencoin}" validate:"required,chain"`
	Asset         string        `long:"asset" env:"ELECTRUMX_ASSET" description:"Asset used by asset commands when none is given"`
	Timeout       time.Duration `long:"timeout" env:"ELECTRUMX_TIMEOUT" description:"Timeout for connecting and for each request" validate:"gt=0"`
	ServerPrefix  string        `long:"serverprefix" description:"Require the server software version to start with this prefix (eg. ElectrumX)"`
	LaxIDs        bool          `long:"laxids" description:"Accept responses whose id does not match the request, for servers that answer every request with a fixed id"`
	Proxy         string        `long:"proxy" env:"ELECTRUMX_PROXY" description:"Connect via SOCKS5 proxy (eg. 127.0.0.1:9050)" validate:"omitempty,hostname_port"`
	ProxyUser     string        `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass     string        `long:"proxypass" default-mask:"-" description:"Password for proxy server"`
	TorIsolation  bool          `long:"torisolation" description:"Enable Tor stream isolation by randomizing user credentials for each connection"`
	CacheDriver   string        `long:"cachedriver" description:"Cache storage driver {leveldb, pebble, memory}" validate:"oneof=leveldb pebble memory"`
	CacheDir      string        `long:"cachedir" description:"Directory to store cached chain data"`
	NoCache       bool          `long:"nocache" description:"Do not cache chain data"`
	KeepAlive     time.Duration `long:"keepalive" description:"Interval of health checks while watching" validate:"gte=0"`
	MetricsListen string        `long:"metricslisten" description:"Expose Prometheus metrics on this address (eg. 127.0.0.1:9101)" validate:"omitempty,hostname_port"`
	LogFile       string        `long:"logfile" description:"Also write logs to this file"`
	DebugLevel    string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems" validate:"debuglevel"`
}

// newValidator returns the validator used for parsed configurations.
func newValidator() *validator.Validate {
	validate := validator.New()

	if err := validate.RegisterValidation("chain", func(fl validator.FieldLevel) bool {
		_, err := electrumx.ChainByName(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(fmt.Sprintf("failed to register chain validation: %v", err))
	}
	if err := validate.RegisterValidation("debuglevel", func(fl validator.FieldLevel) bool {
		return checkDebugLevels(fl.Field().String()) == nil
	}); err != nil {
		panic(fmt.Sprintf("failed to register debuglevel validation: %v", err))
	}
	return validate
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}

// checkDebugLevels reports whether debugLevel is a valid level or list of
// <subsystem>=<level> pairs.
func checkDebugLevels(debugLevel string) error {
	if debugLevel == "show" {
		return nil
	}
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%v] is invalid",
				debugLevel)
		}
		return nil
	}

	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return fmt.Errorf("the specified debug level contains an "+
				"invalid subsystem/level pair [%v]", logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]
		if !supportedSubsystem(subsysID) {
			return fmt.Errorf("the specified subsystem [%v] is invalid "+
				"-- supported subsystems %v", subsysID,
				eclog.SupportedSubsystems())
		}
		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] is invalid",
				logLevel)
		}
	}
	return nil
}

func supportedSubsystem(id string) bool {
	for _, s := range eclog.SupportedSubsystems() {
		if s == id {
			return true
		}
	}
	return false
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	if err := checkDebugLevels(debugLevel); err != nil {
		return err
	}

	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		eclog.SetLogLevels(debugLevel)
		return nil
	}

	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		fields := strings.Split(logLevelPair, "=")
		eclog.SetLogLevel(fields[0], fields[1])
	}
	return nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// NOTE: The os.ExpandEnv doesn't work with Windows cmd.exe-style
	// %VARIABLE%, but the variables can still be expanded via POSIX-style
	// $VARIABLE.
	path = os.ExpandEnv(path)

	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path)
	}

	// Expand initial ~ to the current user's home directory, or ~otheruser
	// to otheruser's home directory.  On Windows, both forward and backward
	// slashes can be used.
	path = path[1:]

	var pathSeparators string
	if runtime.GOOS == "windows" {
		pathSeparators = string(os.PathSeparator) + "/"
	} else {
		pathSeparators = string(os.PathSeparator)
	}

	userName := ""
	if i := strings.IndexAny(path, pathSeparators); i != -1 {
		userName = path[:i]
		path = path[i:]
	}

	homeDir := ""
	var u *user.User
	var err error
	if userName == "" {
		u, err = user.Current()
	} else {
		u, err = user.Lookup(userName)
	}
	if err == nil {
		homeDir = u.HomeDir
	}
	// Fallback to CWD if user lookup fails or user has no home directory.
	if homeDir == "" {
		homeDir = "."
	}

	return filepath.Join(homeDir, path)
}

// endpoints returns the server endpoints described by the configuration in
// the order they were given.
func (cfg *config) endpoints() ([]transport.Endpoint, error) {
	eps := make([]transport.Endpoint, 0, len(cfg.Servers))
	for _, server := range cfg.Servers {
		ep, err := transport.ParseEndpoint(server)
		if err != nil {
			return nil, err
		}
		ep.Timeout = cfg.Timeout
		if cfg.Proxy != "" {
			ep.Proxy = &transport.Proxy{
				Addr:         cfg.Proxy,
				Username:     cfg.ProxyUser,
				Password:     cfg.ProxyPass,
				TorIsolation: cfg.TorIsolation,
			}
		}
		if err := ep.Validate(); err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	if len(eps) == 0 {
		return nil, errors.New("no server specified")
	}
	return eps, nil
}

// chain returns the configured network.
func (cfg *config) chain() *electrumx.Chain {
	c, err := electrumx.ChainByName(cfg.Chain)
	if err != nil {
		// loadConfig validated the name.
		return electrumx.EvrmoreMainNet
	}
	return c
}

// loadConfig initializes and parses the config using a .env file, a config
// file and command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Load an optional .env file into the environment so ELECTRUMX_*
//     variables supply defaults
//  3. Pre-parse the command line to check for an alternative config file
//  4. Load configuration file overwriting defaults with any specified options
//  5. Parse CLI options and overwrite/add any specified options
//  6. Validate the result
//
// The above results in functioning properly without any config settings
// while still allowing the user to override settings with config files and
// command line options.  Command line options always take precedence.
func loadConfig(args []string) (*config, []string, error) {
	envFile := os.Getenv("ELECTRUMX_ENV_FILE")
	if envFile == "" {
		envFile = defaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("error loading %s: %w", envFile, err)
	}

	// Default config.
	cfg := config{
		ConfigFile:  defaultConfigFile,
		Chain:       defaultChain,
		Timeout:     defaultTimeout,
		CacheDriver: defaultCacheDriver,
		CacheDir:    defaultCacheDir,
		DebugLevel:  defaultLogLevel,
	}

	// Pre-parse the command line options to see if an alternative config
	// file, the version flag, or the list commands flag was specified.  Any
	// errors aside from the help message error can be ignored here since
	// they will be caught by the final parse below.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.PassDoubleDash)
	_, err := preParser.ParseArgs(args)
	if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		return nil, nil, err
	}
	if preCfg.ShowVersion || preCfg.ListCommands {
		return &preCfg, nil, nil
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.HelpFlag|flags.PassDoubleDash)
	err = flags.NewIniParser(parser).ParseFile(cleanAndExpandPath(preCfg.ConfigFile))
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			return nil, nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		return nil, nil, err
	}

	if err := newValidator().Struct(&cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.CacheDir = cleanAndExpandPath(cfg.CacheDir)
	if cfg.LogFile != "" {
		cfg.LogFile = cleanAndExpandPath(cfg.LogFile)
	}
	if _, err := cfg.endpoints(); err != nil {
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}

// openCache opens the configured cache, or returns nil when caching is
// disabled.
func (cfg *config) openCache() (cache.Store, error) {
	if cfg.NoCache {
		return nil, nil
	}
	path := filepath.Join(cfg.CacheDir, strings.ToLower(cfg.chain().Name))
	if cfg.CacheDriver != "memory" {
		if err := os.MkdirAll(path, 0700); err != nil {
			return nil, err
		}
	}
	return cache.Open(cfg.CacheDriver, path)
}
