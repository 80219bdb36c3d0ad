package cli

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/vtm/internal/config"
	"github.com/Dicklesworthstone/vtm/internal/serve"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/websocket control plane",
	Long: `Serve exposes team discovery, command dispatch, pane state, completion
feedback, and a websocket stream of live pane updates. The server
restarts with fresh settings when the config file changes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	},
}

func runServe(ctx context.Context, current *config.Config) error {
	reload := make(chan *config.Config, 1)
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	watcher, err := config.Watch(ctx, path, func(next *config.Config) {
		select {
		case reload <- next:
		default:
		}
	})
	if err != nil {
		log.Printf("serve: config watch disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	for {
		c, err := buildComponents(current)
		if err != nil {
			return err
		}

		addr := serveAddr
		if addr == "" {
			addr = current.Serve.Addr
		}
		srv := serve.New(serve.Config{
			Addr:       addr,
			Registry:   c.registry,
			Hub:        c.hub,
			Dispatcher: c.dispatcher,
			Speaker:    c.speaker,
			Bus:        c.bus,
		})

		runCtx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe(runCtx) }()

		select {
		case next := <-reload:
			log.Printf("serve: config changed, restarting")
			cancel()
			<-errCh
			current = next
		case err := <-errCh:
			cancel()
			return err
		case <-ctx.Done():
			cancel()
			return <-errCh
		}
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
