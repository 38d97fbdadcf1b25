// Command boardsync follows one pegasus board: it keeps a local copy in sync
// with the server, pushes the viewer's changes and serves a local viewer.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mariamrf/pegasus/internal/app"
	"github.com/mariamrf/pegasus/internal/config"
)

const version = "1.0.0"

const usage = `Pegasus board sync client.

Settings come from <config>/base.yaml, <config>/<env>.yaml, a .env file and
PEGASUS_* environment variables, in increasing priority. Flags win over all
of them.

Usage:
    boardsync [--config=<dir>] [--env=<env>] [--board=<id>] [--page=<url>]
              [--viewer=<addr> | --no-viewer] [--log-level=<level>]
    boardsync -h | --help
    boardsync --version

Options:
    -h --help            Show this screen.
    --version            Show version.
    --config=<dir>       Configuration directory [default: config].
    --env=<env>          development, staging or production. Defaults to PEGASUS_ENV.
    --board=<id>         Board to follow.
    --page=<url>         Board page URL, including any invite code.
    --viewer=<addr>      Serve the local viewer on addr.
    --no-viewer          Do not serve the local viewer.
    --log-level=<level>  debug, info, warn or error.`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		log.Fatalf("Failed to parse arguments: %v", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Failed to load .env: %v", err)
	}

	env := config.EnvironmentFromEnv()
	if name := optString(opts, "--env"); name != "" {
		env = config.Environment(strings.ToLower(name))
	}

	loader := config.NewLoader(optString(opts, "--config"), env)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := applyFlags(cfg, opts); err != nil {
		log.Fatalf("Invalid flags: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := app.New(ctx, app.Options{Config: cfg, Loader: loader})
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	logger := container.Logger

	runErr := make(chan error, 1)
	go func() {
		runErr <- container.Run(ctx)
	}()

	// Wait for interrupt signal or for the client to stop on its own
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info("Received signal", zap.String("signal", sig.String()))
		cancel()
		if err := <-runErr; err != nil {
			logger.Error("Board client stopped with error", zap.Error(err))
			exitCode = 1
		}
	case err := <-runErr:
		if err != nil {
			logger.Error("Board client stopped with error", zap.Error(err))
			exitCode = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := container.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// applyFlags overrides the loaded configuration with command-line flags.
func applyFlags(cfg *config.Config, opts docopt.Opts) error {
	if board := optString(opts, "--board"); board != "" {
		cfg.Board.ID = board
	}
	if page := optString(opts, "--page"); page != "" {
		cfg.Board.PageURL = page
	}
	if addr := optString(opts, "--viewer"); addr != "" {
		cfg.Viewer.Enabled = true
		cfg.Viewer.Addr = addr
	}
	if noViewer, _ := opts.Bool("--no-viewer"); noViewer {
		cfg.Viewer.Enabled = false
	}
	if level := optString(opts, "--log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg.Validate()
}

func optString(opts docopt.Opts, key string) string {
	s, _ := opts[key].(string)
	return s
}
