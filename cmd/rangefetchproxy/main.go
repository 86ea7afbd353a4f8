// Command rangefetchproxy starts the local RangeFetch proxy (spec.md §4.J),
// a thin cobra wrapper around internal/proxy the way guiyumin-vget's
// internal/cli wires server flags onto internal/server.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cognusion/go-rangefetch/internal/config"
	"github.com/cognusion/go-rangefetch/internal/proxy"
)

var (
	bind        string
	port        int
	firstSize   int64
	maxSize     int64
	threads     int
	downRate    float64
	proxyURL    string
	scheme      string
	adminBind   string
	metricsFlag bool
	debug       bool
)

var rootCmd = &cobra.Command{
	Use:   "rangefetchproxy",
	Short: "Local HTTP proxy that accelerates byte-range downloads",
	Long: `rangefetchproxy splits a client's ranged GET into concurrent
sub-range fetches against the origin, reassembling them in order as it
streams the response back.`,
	RunE: runServe,
}

func init() {
	rootCmd.Flags().StringVar(&bind, "bind", "", "address to listen on")
	rootCmd.Flags().IntVar(&port, "port", 8806, "port to listen on")
	rootCmd.Flags().Int64Var(&firstSize, "first_size", 32*1024, "bytes fetched by the probe request")
	rootCmd.Flags().Int64Var(&maxSize, "max_size", 32*1024, "size of each worker sub-range")
	rootCmd.Flags().IntVar(&threads, "threads", 8, "initial worker count")
	rootCmd.Flags().Float64Var(&downRate, "down_rate", 0, "target throughput in bytes/sec (derives down_rate_min/max)")
	rootCmd.Flags().StringVar(&proxyURL, "proxy", "", "upstream proxy URL for outbound requests")
	rootCmd.Flags().StringVar(&scheme, "scheme", "http", "outbound scheme (http or https)")
	rootCmd.Flags().StringVar(&adminBind, "admin-bind", "", "address for the admin/debug WebSocket feed, empty disables it")
	rootCmd.Flags().BoolVar(&metricsFlag, "metrics", false, "enable the /debug/metrics Prometheus endpoint")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "log debug and timing output to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	cfg.Bind = bind
	cfg.Port = port
	cfg.SetFirstSize(firstSize).
		SetMaxSize(maxSize).
		SetThreads(threads).
		SetScheme(scheme).
		SetAdminBind(adminBind).
		SetMetrics(metricsFlag)

	if downRate > 0 {
		cfg.SetDownRate(downRate)
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return fmt.Errorf("parsing --proxy: %w", err)
		}
		cfg.SetProxy(u)
	}

	var timingsOut, debugOut *log.Logger
	if debug {
		timingsOut = log.New(os.Stderr, "[timing] ", log.LstdFlags)
		debugOut = log.New(os.Stderr, "[debug] ", log.LstdFlags)
	} else {
		timingsOut = log.New(io.Discard, "", 0)
		debugOut = log.New(io.Discard, "", 0)
	}

	srv := proxy.New(cfg, timingsOut, debugOut)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Println("shutting down")
		return srv.Shutdown(context.Background())
	}
}
