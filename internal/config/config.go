// Package config defines the startup option set from EXTERNAL
// INTERFACES and loads it from flags via the standard library's flag
// package. No third-party CLI/config framework appears anywhere in
// the example corpus this module was built from, and the option set
// has no nesting, no env/file layering, and no hot reload -- exactly
// the shape stdlib flag is meant for -- so reaching for a framework
// like cobra or viper here would be an unjustified dependency with no
// corpus precedent to ground it.
package config

import (
	"flag"
	"fmt"

	"github.com/yourusername/ember/internal/logging"
)

// TriggerMode selects the edge/level-triggered combination for the
// listening and connection sockets.
type TriggerMode int

const (
	// LTListenLTConn: level-triggered listen socket, level-triggered
	// connection sockets.
	LTListenLTConn TriggerMode = 0
	// LTListenETConn: level-triggered listen, edge-triggered conn.
	LTListenETConn TriggerMode = 1
	// ETListenLTConn: edge-triggered listen, level-triggered conn.
	ETListenLTConn TriggerMode = 2
	// ETListenETConn: edge-triggered listen and conn.
	ETListenETConn TriggerMode = 3
)

// ListenEdgeTriggered reports whether the listening socket should be
// armed edge-triggered under this mode.
func (m TriggerMode) ListenEdgeTriggered() bool { return m == ETListenLTConn || m == ETListenETConn }

// ConnEdgeTriggered reports whether accepted connection sockets should
// be armed edge-triggered under this mode.
func (m TriggerMode) ConnEdgeTriggered() bool { return m == LTListenETConn || m == ETListenETConn }

// Config is every option read at startup; there is no hot reload.
type Config struct {
	Port          int
	TriggerMode   TriggerMode
	IdleTimeoutMs int
	Linger        bool
	DBHost        string
	DBPort        int
	DBUser        string
	DBPassword    string
	DBName        string
	DBPoolSize    int
	WorkerThreads int
	DocRoot       string
	LogEnabled    bool
	LogLevel      logging.Level
	LogQueueSize  int
}

// Parse builds a Config from args (typically os.Args[1:]).
func Parse(args []string) (Config, error) {
	fs := flag.NewFlagSet("emberd", flag.ContinueOnError)

	cfg := Config{}
	var triggerMode, logLevel int

	fs.IntVar(&cfg.Port, "port", 1316, "TCP bind port (1024-65535)")
	fs.IntVar(&triggerMode, "trigger-mode", 3, "0: LT/LT, 1: LT/ET, 2: ET/LT, 3: ET/ET")
	fs.IntVar(&cfg.IdleTimeoutMs, "idle-timeout-ms", 60000, "idle connection deadline; 0 disables")
	fs.BoolVar(&cfg.Linger, "linger", false, "enable SO_LINGER with a 1s linger time")
	fs.StringVar(&cfg.DBHost, "db-host", "", "database host; empty disables the login/register database pool")
	fs.IntVar(&cfg.DBPort, "db-port", 3306, "database port")
	fs.StringVar(&cfg.DBUser, "db-user", "", "database user")
	fs.StringVar(&cfg.DBPassword, "db-password", "", "database password")
	fs.StringVar(&cfg.DBName, "db-name", "", "database name")
	fs.IntVar(&cfg.DBPoolSize, "db-pool-size", 8, "number of pre-opened database handles")
	fs.IntVar(&cfg.WorkerThreads, "worker-threads", 8, "worker pool size")
	fs.StringVar(&cfg.DocRoot, "doc-root", "./resources", "document root for served files")
	fs.BoolVar(&cfg.LogEnabled, "log-enabled", true, "enable the log sink")
	fs.IntVar(&logLevel, "log-level", int(logging.Info), "0=debug 1=info 2=warn 3=error")
	fs.IntVar(&cfg.LogQueueSize, "log-queue-size", 1024, "async log queue capacity; 0 forces synchronous logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.TriggerMode = TriggerMode(triggerMode)
	cfg.LogLevel = logging.Level(logLevel)

	if cfg.Port < 1024 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("config: port %d out of range [1024, 65535]", cfg.Port)
	}
	if cfg.TriggerMode < LTListenLTConn || cfg.TriggerMode > ETListenETConn {
		return Config{}, fmt.Errorf("config: trigger-mode %d out of range [0, 3]", cfg.TriggerMode)
	}
	if cfg.WorkerThreads <= 0 {
		return Config{}, fmt.Errorf("config: worker-threads must be positive")
	}
	if cfg.DBPoolSize <= 0 {
		return Config{}, fmt.Errorf("config: db-pool-size must be positive")
	}
	return cfg, nil
}
