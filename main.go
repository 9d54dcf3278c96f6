package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"blog_writer_agent/config"
	"blog_writer_agent/generator"
	"blog_writer_agent/logger"
	"blog_writer_agent/server"
	"blog_writer_agent/tracer"
)

var (
	configPath string
	addr       string
)

var rootCmd = &cobra.Command{
	Use:   "bloggen",
	Short: "Writer/editor blog generation loop",
	Long: `bloggen drafts a short blog post with a writer model, has an editor model
critique it, and refines the draft until the editor approves or the round
limit is reached.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()

		srv, err := server.New(app.loop, app.localEditor, server.Options{
			MaxConcurrentRuns: app.cfg.Server.MaxConcurrentRuns,
			RunTimeout:        app.cfg.Server.RunTimeout,
		})
		if err != nil {
			return err
		}
		listen := app.cfg.Server.Addr
		if addr != "" {
			listen = addr
		}
		return serve(cmd.Context(), listen, srv.Routes())
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate <topic>",
	Short: "Run one generation from the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer app.close()

		res, err := app.loop.Run(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.json", "path to config file (json or yaml)")
	serveCmd.Flags().StringVar(&addr, "addr", "", "http listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd, generateCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, listen string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Default().Info("starting web server", "addr", listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Default().Info("shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func printResult(res *generator.Result) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n\n", cyan("=== "+res.Title+" ==="))
	fmt.Println(res.Content)
	fmt.Println()

	status := color.New(color.FgGreen).Sprint("approved")
	if !res.Approved {
		status = color.New(color.FgYellow).Sprint("not approved (round limit reached)")
	}
	fmt.Printf("Status:     %s\n", status)
	fmt.Printf("Iterations: %d (%d drafts)\n", res.Iterations, res.Drafts)
	fmt.Printf("Usage:      %d units (%s, prompt %d / completion %d)\n",
		res.Metrics.Total(), res.UsageMode, res.Metrics.PromptUnits, res.Metrics.CompletionUnits)
	fmt.Printf("Model:      %s\n", res.ModelName)
	if len(res.Feedback) > 0 {
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("\n%s\n", yellow("Editor feedback:"))
		for i, fb := range res.Feedback {
			fmt.Printf("  %d. %s\n", i+1, fb)
		}
	}
}

// app 持有一次进程生命周期内共享的组件
type app struct {
	cfg         *config.Config
	loop        *generator.Loop
	localEditor generator.Critic
	shutdown    func(context.Context) error
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		logger.Default().Warn("tracer shutdown failed", "error", err)
	}
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRate:  cfg.Tracing.SampleRate,
		Enabled:     cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, err
	}

	loop, local, err := buildLoop(cfg)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, err
	}
	return &app{cfg: cfg, loop: loop, localEditor: local, shutdown: shutdown}, nil
}
