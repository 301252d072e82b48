package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/punchamoorthee/stakeledger/internal/api"
	"github.com/punchamoorthee/stakeledger/internal/chainstate"
	"github.com/punchamoorthee/stakeledger/internal/config"
	"github.com/punchamoorthee/stakeledger/internal/identity"
	"github.com/punchamoorthee/stakeledger/internal/processor"
	"github.com/punchamoorthee/stakeledger/internal/service"
	"github.com/punchamoorthee/stakeledger/internal/store"
	"github.com/punchamoorthee/stakeledger/internal/stream"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Fatal:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "indexer"
	app.Usage = "project staking records into the ledger and serve it"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "path to a YAML config file",
		},
		cli.StringFlag{
			Name:  "stream",
			Usage: "block stream to apply, '-' for stdin (overrides STREAM_PATH)",
		},
		cli.BoolFlag{
			Name:  "exit-on-eof",
			Usage: "stop once the stream is applied instead of serving",
		},
	}
	app.Action = run
	return app
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if path := c.String("stream"); path != "" {
		cfg.StreamPath = path
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	// Initialize Layers
	ids, err := identity.NewCodec(cfg.SS58Prefix)
	if err != nil {
		return err
	}
	mode, err := service.ParseStakedPayeeMode(cfg.StakedPayeeMode)
	if err != nil {
		return err
	}
	state, err := chainstate.NewCachedAccessor(st.Snapshots(), cfg.StateCacheSize)
	if err != nil {
		return err
	}
	proc := processor.New(st,
		service.NewStakingService(ids, mode),
		chainstate.NewResolver(state, ids),
		ids,
		logger.Named("processor"))

	src, closeSrc, err := openStream(cfg.StreamPath)
	if err != nil {
		return err
	}
	defer closeSrc()

	if c.Bool("exit-on-eof") {
		return proc.Run(ctx, src)
	}

	// Router
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	api.NewHandler(st, logger.Named("api")).Register(r.PathPrefix("/api/v1").Subrouter())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.CORS(handlers.AllowedMethods([]string{"GET"}))(handlers.CombinedLoggingHandler(os.Stdout, r)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := proc.Run(gctx, src); err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrap(err, "processor")
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("indexer stopped", zap.Error(err))
	return err
}

func openStream(path string) (stream.Source, func(), error) {
	switch path {
	case "":
		return nil, nil, errors.New("no stream configured: set STREAM_PATH or --stream")
	case "-":
		return stream.NewJSONLines(os.Stdin), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open stream")
	}
	return stream.NewJSONLines(f), func() { f.Close() }, nil
}
