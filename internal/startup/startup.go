package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"dicom-indexer/internal/logging"
	"dicom-indexer/internal/workers"

	"github.com/gorilla/mux"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Config holds all application configuration
type Config struct {
	StoreDir string
	DataDir  string
	Port     string

	MaxWorkers         int
	PerFileTimeout     time.Duration
	LatencyThreshold   time.Duration
	CheckpointFiles    int
	CheckpointInterval time.Duration

	ShareCleanupInterval time.Duration
	ShareRetention       time.Duration

	LogHealthChecks bool
	MetricsEnabled  bool

	// Derived paths
	IndexPath   string
	ShareDBPath string
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	storeDir := getEnv("STORE_DIR", "/store")
	dataDir := getEnv("DATA_DIR", "/data")
	port := getEnv("PORT", "8080")
	maxWorkers := workers.ForIO(16)
	perFileTimeout := getEnvDuration("EXTRACT_TIMEOUT", 5*time.Second)
	latencyThreshold := getEnvDuration("POOL_LATENCY_THRESHOLD", 2*time.Second)
	checkpointFiles := getEnvInt("CHECKPOINT_FILES", 50)
	checkpointInterval := getEnvDuration("CHECKPOINT_INTERVAL", 10*time.Second)
	shareCleanupInterval := getEnvDuration("SHARE_CLEANUP_INTERVAL", 24*time.Hour)
	shareRetention := getEnvDuration("SHARE_RETENTION", 30*24*time.Hour)
	logHealthChecks := getEnvBool("LOG_HEALTH_CHECKS", true)
	metricsEnabled := getEnvBool("METRICS_ENABLED", true)

	logging.Info("  STORE_DIR:               %s", storeDir)
	logging.Info("  DATA_DIR:                %s", dataDir)
	logging.Info("  PORT:                    %s", port)
	logging.Info("  Index workers (max):     %d", maxWorkers)
	logging.Info("  EXTRACT_TIMEOUT:         %s", perFileTimeout)
	logging.Info("  POOL_LATENCY_THRESHOLD:  %s", latencyThreshold)
	logging.Info("  CHECKPOINT_FILES:        %d", checkpointFiles)
	logging.Info("  CHECKPOINT_INTERVAL:     %s", checkpointInterval)
	logging.Info("  SHARE_CLEANUP_INTERVAL:  %s", shareCleanupInterval)
	logging.Info("  SHARE_RETENTION:         %s", shareRetention)
	logging.Info("  LOG_HEALTH_CHECKS:       %v", logHealthChecks)
	logging.Info("  METRICS_ENABLED:         %v", metricsEnabled)
	logging.Info("  LOG_LEVEL:               %s", logging.GetLevel())

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	storeDir, err := filepath.Abs(storeDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store directory path: %w", err)
	}
	logging.Info("  Store directory (absolute): %s", storeDir)

	dataDir, err = filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	logging.Info("  Data directory (absolute):  %s", dataDir)

	// The store is a network mount; its absence at startup is a warning,
	// not a failure. Indexing will report it unreachable if it stays gone.
	if err := ensureDirectory(storeDir, "store"); err != nil {
		logging.Warn("  Store directory issue: %v", err)
	}

	// The data directory holds the index and the share database (required).
	if err := ensureDirectory(dataDir, "data"); err != nil {
		return nil, fmt.Errorf("data directory error: %w", err)
	}

	logging.Debug("  Testing data directory write access...")
	if err := testWriteAccess(dataDir); err != nil {
		return nil, fmt.Errorf("data directory is not writable (required for index and shares): %w", err)
	}
	logging.Info("  [OK] Data directory is writable")

	config := &Config{
		StoreDir:             storeDir,
		DataDir:              dataDir,
		Port:                 port,
		MaxWorkers:           maxWorkers,
		PerFileTimeout:       perFileTimeout,
		LatencyThreshold:     latencyThreshold,
		CheckpointFiles:      checkpointFiles,
		CheckpointInterval:   checkpointInterval,
		ShareCleanupInterval: shareCleanupInterval,
		ShareRetention:       shareRetention,
		LogHealthChecks:      logHealthChecks,
		MetricsEnabled:       metricsEnabled,
		IndexPath:            filepath.Join(dataDir, "index.json"),
		ShareDBPath:          filepath.Join(dataDir, "shares.db"),
	}

	return config, nil
}

// LogShareDBInit logs share database initialization
func LogShareDBInit(duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHARE DATABASE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] Share database initialized in %v", duration)
}

// LogIndexerInit logs indexer initialization
func LogIndexerInit(maxWorkers int) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("INDEXER INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Worker pool max: %d", maxWorkers)
}

// LogIndexLoaded logs the state of the persisted index at startup
func LogIndexLoaded(seriesCount int, neverIndexed bool) {
	if neverIndexed {
		logging.Info("  No index found; POST /api/index/start to build one")
		return
	}
	logging.Info("  [OK] Index loaded: %d series", seriesCount)
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		name := route.GetName()

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   name,
			})
		}

		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))
		logging.Debug("")

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			groupRoutes := groups[group]
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}

			for _, route := range groupRoutes {
				methodPadded := fmt.Sprintf("%-6s", route.Method)
				logging.Debug("    %s %s", methodPadded, route.Path)
			}
			logging.Debug("")
		}
	}

	logging.Info("  HTTP logging enabled")
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")

	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 {
		return ""
	}

	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}

	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    API:           http://0.0.0.0:%s/api", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.Port)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

// Helper functions

func printBanner() {
	banner := `
------------------------------------------------------------
    ___  ___ _________  __  ___   ___ _  _ ___  _____  _____ ___
   |   \|_ _/ ___/ __ \|  \/  |  |_ _| \| |   \| __\ \/ / __| _ \
   | |) || | |__| |__| | |\/| |   | || .' | |) | _| >  <| _||   /
   |___/|___\___/\____/|_|  |_|  |___|_|\_|___/|___/_/\_\___|_|_\

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		logging.Debug("  Goroutines:      %d", runtime.NumGoroutine())

		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}

		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		logging.Warn("Invalid value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed < 0 {
		logging.Warn("Invalid duration for %s: %q, using default: %s", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
