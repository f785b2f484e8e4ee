// arena - real-time paddle-ball game server
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ernie/paddle-arena/internal/api"
	"github.com/ernie/paddle-arena/internal/bus"
	"github.com/ernie/paddle-arena/internal/config"
	"github.com/ernie/paddle-arena/internal/logging"
	"github.com/ernie/paddle-arena/internal/npc/provision"
	"github.com/ernie/paddle-arena/internal/relay"
	"github.com/ernie/paddle-arena/internal/royale"
	"github.com/ernie/paddle-arena/internal/session"
	"github.com/ernie/paddle-arena/internal/storage"
	"github.com/ernie/paddle-arena/internal/tournament"
)

var version = "dev"

const defaultConfigPath = "/etc/arena/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		cmdInit(os.Args[2:])
	case "serve":
		cmdServe(os.Args[2:])
	case "rooms":
		cmdRooms(os.Args[2:])
	case "tournaments":
		cmdTournaments(os.Args[2:])
	case "matches":
		cmdMatches(os.Args[2:])
	case "version":
		fmt.Printf("arena %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: arena <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init [--path <file>]       Write a default config file")
	fmt.Println("  serve                      Start the game server")
	fmt.Println("  rooms                      Show live rooms")
	fmt.Println("  tournaments                Show tournaments")
	fmt.Println("  matches [--recent N]       Show recent matches (default: 20)")
	fmt.Println("  version                    Show version")
	fmt.Println("  help                       Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/arena/config.yml)")
	fmt.Println("  --url <url>        Base URL of the arena server (default: derived from config)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  arena init --path ./config.yml")
	fmt.Println("  arena serve --config ./config.yml")
	fmt.Println("  arena matches --recent 50")
}

// cmdInit writes a default config file
func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", defaultConfigPath, "destination for the config file")
	fs.Parse(args)

	if _, err := os.Stat(*path); err == nil {
		fmt.Printf("Config already exists at %s.\n", *path)
		fmt.Println("To re-initialize, remove the file first.")
		return
	}

	if dir := filepath.Dir(*path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", dir, err)
			os.Exit(1)
		}
	}

	if err := config.Save(*path, config.Default()); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config: %s\n", *path)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Edit %s with your settings\n", *path)
	fmt.Printf("  2. Start the server: arena serve --config %s\n", *path)
}

// cmdServe starts the game server
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else if _, err := os.Stat(defaultConfigPath); err == nil {
		loaded, err := config.Load(defaultConfigPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("arena starting", zap.String("version", version))

	// Event bus
	b, err := bus.New(log)
	if err != nil {
		log.Fatal("starting event bus", zap.Error(err))
	}
	defer b.Close()

	rel, err := relay.New(b, log)
	if err != nil {
		log.Fatal("starting relay", zap.Error(err))
	}

	// Match history
	dsn := cfg.Database.Path
	if dsn == "" {
		dsn = storage.DefaultDSN
		log.Info("no database path configured, match history is in-memory")
	}
	store, err := storage.New(dsn)
	if err != nil {
		log.Fatal("initializing database", zap.Error(err))
	}
	defer store.Close()

	// Managers
	provider := provision.NewLocal(log)
	sessions := session.NewManager(cfg.Session, rel, provider, store, log)
	defer sessions.Close()
	tournaments := tournament.NewManager(rel, sessions, log, nil)
	royaleMgr := royale.NewManager(cfg.Royale, rel, provider, store, log)
	defer royaleMgr.Close()

	// A dropped connection leaves every room the participant was in.
	rel.OnLeave(func(roomID, participantID string) {
		_ = sessions.Leave(roomID, participantID)
		_ = royaleMgr.Leave(roomID, participantID)
		_ = tournaments.HandleDisconnect(roomID, participantID)
	})

	router := api.NewRouter(store, sessions, tournaments, royaleMgr, rel, log, cfg.Server.StaticDir)
	if cfg.Server.StaticDir != "" {
		log.Info("serving static files", zap.String("dir", cfg.Server.StaticDir))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Set up signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for signal or error
	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		log.Fatal("http server error", zap.Error(err))
	}

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}

	log.Info("shutdown complete")
}

// CLI helper variables
var baseURL = "http://127.0.0.1:8080"

// loadCLIConfig resolves the server URL from flags and config
func loadCLIConfig(configPath, url string) {
	if url != "" {
		baseURL = url
		return
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return
	}
	baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
}

func cmdRooms(args []string) {
	fs := flag.NewFlagSet("rooms", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the arena server")
	fs.Parse(args)

	loadCLIConfig(*configPath, *url)

	var rooms []map[string]interface{}
	if err := getJSON("/api/rooms", &rooms); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROOM\tPHASE\tPLAYERS\tSPECTATORS\tSCORE")
	fmt.Fprintln(w, "----\t-----\t-------\t----------\t-----")

	for _, room := range rooms {
		id := room["id"].(string)
		phase := fmt.Sprintf("%v", room["phase"])

		players := 0
		if slots, ok := room["slots"].([]interface{}); ok {
			players = len(slots)
		}
		spectators := 0
		if s, ok := room["spectators"].(float64); ok {
			spectators = int(s)
		}

		score := "-"
		if sc, ok := room["score"].(map[string]interface{}); ok {
			score = fmt.Sprintf("%v-%v", sc["bottom"], sc["top"])
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", id, phase, players, spectators, score)
	}

	w.Flush()
}

func cmdTournaments(args []string) {
	fs := flag.NewFlagSet("tournaments", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the arena server")
	fs.Parse(args)

	loadCLIConfig(*configPath, *url)

	var tournaments []map[string]interface{}
	if err := getJSON("/api/tournaments", &tournaments); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPLAYERS\tROUND\tWINNER")
	fmt.Fprintln(w, "--\t------\t-------\t-----\t------")

	for _, t := range tournaments {
		id := t["id"].(string)
		status := fmt.Sprintf("%v", t["status"])

		players := 0
		if p, ok := t["players"].([]interface{}); ok {
			players = len(p)
		}
		maxPlayers := 0
		if m, ok := t["max_players"].(float64); ok {
			maxPlayers = int(m)
		}

		round := 0
		if r, ok := t["current_round"].(float64); ok {
			round = int(r)
		}

		winner := "-"
		if wn, ok := t["winner_name"].(string); ok && wn != "" {
			winner = wn
		}

		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%s\n", id, status, players, maxPlayers, round, winner)
	}

	w.Flush()
}

func cmdMatches(args []string) {
	fs := flag.NewFlagSet("matches", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the arena server")
	limit := fs.Int("recent", 20, "number of recent matches to show")
	fs.Parse(args)

	loadCLIConfig(*configPath, *url)

	var response map[string]interface{}
	if err := getJSON(fmt.Sprintf("/api/matches?limit=%d", *limit), &response); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	matches, _ := response["matches"].([]interface{})

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tBOTTOM\tTOP\tSCORE\tWINNER\tENDED")
	fmt.Fprintln(w, "--\t----\t------\t---\t-----\t------\t-----")

	for _, entry := range matches {
		match, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}

		id := int64(match["id"].(float64))
		kind := match["kind"].(string)
		bottom := match["bottom_name"].(string)
		top := match["top_name"].(string)
		winner := match["winner_name"].(string)
		score := fmt.Sprintf("%v-%v", match["score_bottom"], match["score_top"])

		ended := "-"
		if e, ok := match["ended_at"].(string); ok && e != "" {
			ended = formatTime(e)
		}

		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", id, kind, bottom, top, score, winner, ended)
	}

	w.Flush()
}

func getJSON(path string, target interface{}) error {
	url := baseURL + path
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(target)
}

func formatTime(isoTime string) string {
	// Simple formatting - just show time portion
	if idx := strings.Index(isoTime, "T"); idx != -1 {
		t := isoTime[idx+1:]
		if dotIdx := strings.Index(t, "."); dotIdx != -1 {
			t = t[:dotIdx]
		}
		if zIdx := strings.Index(t, "Z"); zIdx != -1 {
			t = t[:zIdx]
		}
		return t
	}
	return isoTime
}
