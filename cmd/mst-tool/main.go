package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bluesky-social/go-mst/mst"
	"github.com/bluesky-social/go-mst/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	"github.com/ipfs/go-cid"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "mst-tool",
		Usage:   "development tool for Merkle Search Trees: build, inspect, diff and move trees between blockstores and CAR files",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log verbosity level (eg: warn, info, debug)",
				EnvVars: []string{"MST_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "log output format (text or json)",
				Value:   "text",
				EnvVars: []string{"MST_LOG_FORMAT", "LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:    "store",
				Usage:   "blockstore to use: memory, map, flatfs://DIR, pebble://DIR, sqlite://FILE or postgres://...",
				Value:   "pebble://mst-data",
				EnvVars: []string{"MST_STORE"},
			},
			&cli.IntFlag{
				Name:    "fanout",
				Usage:   "tree fanout (2, 8, 16, 32 or 64)",
				Value:   mst.DefaultFanout,
				EnvVars: []string{"MST_FANOUT"},
			},
			&cli.IntFlag{
				Name:    "cache-size",
				Usage:   "number of blocks to keep in an in-memory cache (0 disables)",
				Value:   0,
				EnvVars: []string{"MST_CACHE_SIZE"},
			},
			&cli.StringFlag{
				Name:    "otel-exporter-otlp-endpoint",
				EnvVars: []string{"OTEL_EXPORTER_OTLP_ENDPOINT"},
			},
		},
		Before: func(cctx *cli.Context) error {
			_, err := cliutil.SetupSlog(cliutil.LogOptions{
				LogLevel:  cctx.String("log-level"),
				LogFormat: cctx.String("log-format"),
			})
			return err
		},
	}

	app.Commands = []*cli.Command{
		cmdBuild,
		cmdGenFake,
		cmdGet,
		cmdList,
		cmdDiff,
		cmdVerify,
		cmdStats,
		cmdPretty,
		cmdProof,
		cmdImportCar,
		cmdExportCar,
	}

	return app.Run(args)
}

// Opens the configured blockstore, and sets up tracing if an exporter is configured. The returned func must be called on exit.
func setup(cctx *cli.Context) (blockstore.Blockstore, func(), error) {
	var shutdowns []func()
	cleanup := func() {
		for i := len(shutdowns) - 1; i >= 0; i-- {
			shutdowns[i]()
		}
	}

	// For relevant environment variables:
	// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlptrace#readme-environment-variables
	if ep := cctx.String("otel-exporter-otlp-endpoint"); ep != "" {
		slog.Info("setting up trace exporter", "endpoint", ep)
		exp, err := otlptracehttp.New(cctx.Context)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		shutdowns = append(shutdowns, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := exp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown trace exporter", "error", err)
			}
		})

		tp := tracesdk.NewTracerProvider(
			tracesdk.WithBatcher(exp),
			tracesdk.WithResource(resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceNameKey.String("mst-tool"),
			)),
		)
		otel.SetTracerProvider(tp)
	}

	bs, closer, err := cliutil.OpenBlockstore(cctx.String("store"), cctx.Int("cache-size"))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	shutdowns = append(shutdowns, func() {
		if err := closer.Close(); err != nil {
			slog.Error("failed to close blockstore", "error", err)
		}
	})

	return bs, cleanup, nil
}

// Loads the tree at the CID given as the nth argument.
func loadTreeArg(cctx *cli.Context, bs mst.Blockstore, n int) (*mst.MerkleSearchTree, error) {
	s := cctx.Args().Get(n)
	if s == "" {
		return nil, fmt.Errorf("need to provide tree root CID")
	}
	root, err := cid.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("parsing root CID: %w", err)
	}
	return mst.LoadMST(bs, cctx.Int("fanout"), root)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func openOutput(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	return os.Create(path)
}
