// Package config assembles the server's configuration from command-line
// flags and, optionally, a YAML file (spec §6.2).
package config

import (
	"flag"
	"fmt"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// RuntimeType selects the listener backend (spec §6.2 runtime_type).
type RuntimeType string

const (
	RuntimeSharedPool RuntimeType = "shared-multi-threaded-pool"
	RuntimePerWorker  RuntimeType = "single-thread-per-worker"
)

// StoreEngine selects the cache backend (spec §6.2 store_engine).
type StoreEngine string

const (
	StoreShardedHashMap     StoreEngine = "sharded-hash-map"
	StoreTinyLFUCapacityBnd StoreEngine = "TinyLFU-capacity-bounded"
)

// EvictionPolicy mirrors cache.Policy as a config-file-friendly string
// (spec §6.2 eviction_policy).
type EvictionPolicy string

const (
	EvictionNone    EvictionPolicy = "None"
	EvictionLRU     EvictionPolicy = "LRU"
	EvictionTinyLFU EvictionPolicy = "TinyLFU"
)

// Config holds exactly the spec §6.2 enumerated fields plus the ambient
// LogFile knob C11's logger needs (log verbosity reuses Verbosity).
type Config struct {
	ListenAddress   string `mapstructure:"listen_address"`
	Port            int    `mapstructure:"port"`
	ConnectionLimit int64  `mapstructure:"connection_limit"`
	ListenBacklog   int    `mapstructure:"listen_backlog"`
	MemoryLimit     int64  `mapstructure:"memory_limit"`
	ItemSizeLimit   int64  `mapstructure:"item_size_limit"`
	WorkerThreads   int    `mapstructure:"worker_threads"`
	RuntimeType     string `mapstructure:"runtime_type"`
	StoreEngine     string `mapstructure:"store_engine"`
	EvictionPolicy  string `mapstructure:"eviction_policy"`
	Verbosity       uint8  `mapstructure:"verbosity"`
	LogFile         string `mapstructure:"log_file"`
}

// defaultItemSizeLimit and maxItemSizeLimit are the spec §6.2 defaults for
// item_size_limit: 1 MiB default, 1000 MiB hard cap.
const (
	defaultItemSizeLimit = int64(1) << 20
	maxItemSizeLimit     = int64(1000) << 20
)

// DefaultConfig returns the spec §6.2 defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddress:   "127.0.0.1",
		Port:            11211,
		ConnectionLimit: 1024,
		ListenBacklog:   1024,
		MemoryLimit:     64 << 20,
		ItemSizeLimit:   defaultItemSizeLimit,
		WorkerThreads:   runtime.NumCPU(),
		RuntimeType:     string(RuntimeSharedPool),
		StoreEngine:     string(StoreShardedHashMap),
		EvictionPolicy:  string(EvictionNone),
		Verbosity:       0,
	}
}

// flagSet holds the raw flag.Value targets bound by Register, kept apart
// from Config so Load can tell which ones the user actually typed
// (fs.Visit only reports flags explicitly set on the command line) before
// deciding whether they should override a loaded config file.
type flagSet struct {
	listenAddress   string
	port            int
	connectionLimit int64
	listenBacklog   int
	memoryMB        int64
	itemSizeLimitMB int64
	workerThreads   int
	runtimeType     string
	storeEngine     string
	evictionPolicy  string
	verbosityFlag   *uint
	logFile         string
	configFile      string
}

// Register binds every spec §6.2 flag onto fs, memcached-style: short and
// long names aliasing the same variable, matching the teacher's
// cmd/tqmemory/main.go flag set, extended with the fields the teacher never
// exposed (item-size-limit, runtime, store-engine, eviction-policy, backlog).
func Register(fs *flag.FlagSet) *flagSet {
	def := DefaultConfig()
	f := &flagSet{}

	fs.StringVar(&f.listenAddress, "l", def.ListenAddress, "Interface to listen on")
	fs.StringVar(&f.listenAddress, "listen", def.ListenAddress, "Interface to listen on")
	fs.IntVar(&f.port, "p", def.Port, "TCP port to listen on")
	fs.IntVar(&f.port, "port", def.Port, "TCP port to listen on")
	fs.Int64Var(&f.connectionLimit, "c", def.ConnectionLimit, "Max simultaneous connections")
	fs.Int64Var(&f.connectionLimit, "connections", def.ConnectionLimit, "Max simultaneous connections")
	fs.IntVar(&f.listenBacklog, "backlog", def.ListenBacklog, "Listen backlog size (recorded in the config; the listeners do not apply it)")
	fs.Int64Var(&f.memoryMB, "m", def.MemoryLimit/(1<<20), "Max memory to use for items in megabytes")
	fs.Int64Var(&f.memoryMB, "memory", def.MemoryLimit/(1<<20), "Max memory to use for items in megabytes")
	fs.IntVar(&f.workerThreads, "t", def.WorkerThreads, "Number of worker threads")
	fs.IntVar(&f.workerThreads, "threads", def.WorkerThreads, "Number of worker threads")
	fs.Int64Var(&f.itemSizeLimitMB, "item-size-limit", defaultItemSizeLimit/(1<<20), "Max item size in megabytes")
	fs.StringVar(&f.runtimeType, "runtime", def.RuntimeType, "Runtime backend: shared-multi-threaded-pool or single-thread-per-worker")
	fs.StringVar(&f.storeEngine, "store-engine", def.StoreEngine, "Store engine: sharded-hash-map or TinyLFU-capacity-bounded")
	fs.StringVar(&f.evictionPolicy, "eviction-policy", def.EvictionPolicy, "Eviction policy: None, LRU, or TinyLFU")
	verbosity := fs.Uint("v", uint(def.Verbosity), "Logging verbosity (0-3)")
	fs.StringVar(&f.logFile, "logfile", "", "Path to log file (default: stderr only)")
	fs.StringVar(&f.configFile, "config", "", "Path to a YAML config file")
	f.verbosityFlag = verbosity

	return f
}

// Load finalizes cfg after fs has been parsed: a YAML file named by -config
// is loaded first (if given), then any flag the user explicitly typed
// overrides the corresponding file/default value, per spec §4.12 ordering
// (flags > file > defaults).
func Load(fs *flag.FlagSet, f *flagSet) (*Config, error) {
	cfg := DefaultConfig()

	if f.configFile != "" {
		v := viper.New()
		v.SetConfigFile(f.configFile)
		v.SetConfigType("yaml")
		v.AutomaticEnv()
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %q", f.configFile)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %q", f.configFile)
		}
	}

	explicit := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { explicit[fl.Name] = true })

	applyString(explicit, "l", f.listenAddress, &cfg.ListenAddress)
	applyString(explicit, "listen", f.listenAddress, &cfg.ListenAddress)
	applyInt(explicit, "p", f.port, &cfg.Port)
	applyInt(explicit, "port", f.port, &cfg.Port)
	applyInt64(explicit, "c", f.connectionLimit, &cfg.ConnectionLimit)
	applyInt64(explicit, "connections", f.connectionLimit, &cfg.ConnectionLimit)
	applyInt(explicit, "backlog", f.listenBacklog, &cfg.ListenBacklog)
	if explicit["m"] || explicit["memory"] {
		cfg.MemoryLimit = f.memoryMB << 20
	}
	applyInt(explicit, "t", f.workerThreads, &cfg.WorkerThreads)
	applyInt(explicit, "threads", f.workerThreads, &cfg.WorkerThreads)
	if explicit["item-size-limit"] {
		cfg.ItemSizeLimit = f.itemSizeLimitMB << 20
	}
	applyString(explicit, "runtime", f.runtimeType, &cfg.RuntimeType)
	applyString(explicit, "store-engine", f.storeEngine, &cfg.StoreEngine)
	applyString(explicit, "eviction-policy", f.evictionPolicy, &cfg.EvictionPolicy)
	if explicit["v"] {
		cfg.Verbosity = uint8(*f.verbosityFlag)
	}
	applyString(explicit, "logfile", f.logFile, &cfg.LogFile)

	if cfg.ItemSizeLimit > maxItemSizeLimit {
		return nil, errors.Newf("item_size_limit %d exceeds hard cap %d", cfg.ItemSizeLimit, maxItemSizeLimit)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, errors.Newf("port %d out of range 1-65535", cfg.Port)
	}

	return &cfg, nil
}

func applyString(explicit map[string]bool, name, val string, dst *string) {
	if explicit[name] {
		*dst = val
	}
}

func applyInt(explicit map[string]bool, name string, val int, dst *int) {
	if explicit[name] {
		*dst = val
	}
}

func applyInt64(explicit map[string]bool, name string, val int64, dst *int64) {
	if explicit[name] {
		*dst = val
	}
}

// Addr formats the listen address per the teacher's convention: an empty
// host means all interfaces.
func (c *Config) Addr() string {
	if c.ListenAddress == "" {
		return fmt.Sprintf(":%d", c.Port)
	}
	return fmt.Sprintf("%s:%d", c.ListenAddress, c.Port)
}
