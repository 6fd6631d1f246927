// Command slmd is the thin process entrypoint that wires the engine's
// dependency graph (internal/di) and, when requested, serves the
// read-only query surface (internal/httpapi) on a loopback listener.
// Argument parsing for an interactive CLI is explicitly out of scope
// (spec §1): this binary only reads environment variables (§6) and boots
// the façade for an embedding caller such as an MCP server or dashboard
// process.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"slm-core/internal/di"
	"slm-core/internal/httpapi"
)

func defaultHome() string {
	if home := os.Getenv("SLM_HOME"); home != "" {
		return home
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".slm"
	}
	return filepath.Join(dir, ".slm")
}

func main() {
	home := defaultHome()
	opts := di.Options{
		DBPath:      filepath.Join(home, "memory.db"),
		BackupDir:   filepath.Join(home, "backups"),
		PointerPath: filepath.Join(home, "profiles.json"),
		ConfigPath:  envOr("SLM_CONFIG", filepath.Join(home, "config.json")),
		Interactive: isTerminal(),
		LogLevel:    os.Getenv("SLM_LOG_LEVEL"),
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "slmd: create SLM_HOME:", err)
		os.Exit(5)
	}

	assembled, err := di.InitializeFacade(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "slmd: initialize:", err)
		os.Exit(5)
	}
	defer assembled.DB.Close()

	if addr := os.Getenv("SLM_DASHBOARD_ADDR"); addr != "" {
		serveDashboard(assembled, addr)
		return
	}

	assembled.Log.Infow("slmd ready", "home", home, "db", opts.DBPath)
	waitForSignal()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}

// serveDashboard binds the read-only query surface to addr, which must be
// loopback-only (§1: no network egress beyond the local machine) — it is
// the caller's responsibility to pass a 127.0.0.1 address.
func serveDashboard(assembled *di.Assembled, addr string) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "slmd: listen:", err)
		os.Exit(5)
	}
	router := httpapi.NewRouter(assembled.Facade, assembled.Log)
	assembled.Log.Infow("serving read-only query endpoints", "addr", addr)
	srv := &http.Server{Handler: router.Handler()}
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		assembled.Log.Errorw("dashboard server stopped", "error", err)
	}
}
