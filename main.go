package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"runbell/internal/config"
	"runbell/internal/daemon"
	"runbell/internal/notify"
	"runbell/internal/store"
	"runbell/internal/tui"
)

func main() {
	var (
		daemonMode = flag.Bool("daemon", false, "run the background daemon instead of the dashboard")
		configPath = flag.String("config", "", "config file (default: ~/.config/runbell/config.yaml)")
		socketPath = flag.String("socket", "", "unix socket path (overrides config)")
		dbPath     = flag.String("db", "", "state database path (overrides config)")
	)
	flag.Parse()

	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = config.Global()
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	config.SetGlobal(cfg)

	if *daemonMode {
		if err := runDaemon(cfg, *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runDashboard(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cfg *config.Config, configPath string) error {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := daemon.NewServer(cfg, st, notify.ExecSender{})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Println("daemon: shutting down")
	}()

	return srv.ListenAndServe(ctx, configPath)
}

func runDashboard(cfg *config.Config) error {
	client, err := tui.DialClient(cfg.SocketPath)
	if err != nil {
		return err
	}
	defer client.Close()

	p := tea.NewProgram(tui.NewModel(client, cfg), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
