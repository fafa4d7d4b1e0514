package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/cli"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/enrich"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/globaltime"
	"github.com/AntonioGuanche/ProcureWatch-sub001/internal/httpapi"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	port := fs.Int("port", 8090, "HTTP port")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 2*time.Minute, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	cfg, logger, code := loadRuntime(envLoader)
	if code != 0 {
		return code
	}

	ctx, stop := signalContext(context.Background())
	defer stop()

	pool, err := connectPool(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer pool.Close()

	svc, cleanup, err := buildMatcher(ctx, cfg, pool, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Matcher setup failed: %v\n", err)
		return 1
	}
	defer cleanup()

	srv := httpapi.NewServer(pool, svc, logger, httpapi.Options{
		Host:              *host,
		Port:              *port,
		ReadTimeout:       *readTimeout,
		WriteTimeout:      *writeTimeout,
		ShutdownTimeout:   *shutdownTimeout,
		AllowedOrigins:    cfg.CORSAllowedOriginsList(),
		EnrichmentVersion: enrich.Version,
		Now:               globaltime.UTC,
	})
	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("api server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}
	return 0
}
