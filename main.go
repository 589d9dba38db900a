package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"stream-gate/internal/acpinspect"
	"stream-gate/internal/adapter"
	"stream-gate/internal/audit"
	"stream-gate/internal/collect"
	"stream-gate/internal/config"
	"stream-gate/internal/eventloop"
	"stream-gate/internal/remote"
	"stream-gate/internal/source"
	"stream-gate/internal/stream"
	"stream-gate/internal/strategy"
)

type multiFlag []string

func (m *multiFlag) String() string { return fmt.Sprint([]string(*m)) }
func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

type flags struct {
	auditDBPath string
	cfgPath     string
	profile     string
	envFiles    multiFlag
	servePort   int
	connectAddr string
	debug       bool
	hwm         string
	overrides   config.Overrides
}

func main() {
	f := flags{overrides: config.NoOverrides()}
	flag.StringVar(&f.auditDBPath, "audit-db", "", "path to SQLite stream journal (disabled when empty)")
	flag.StringVar(&f.cfgPath, "config", "", "path to JSON or YAML config file with profiles (default: ~/.config/.stream-gate/config.json if present)")
	flag.StringVar(&f.profile, "profile", "", "profile name from config to use")
	flag.Var(&f.envFiles, "env-file", ".env file to load before reading config (repeatable, default .env)")
	flag.IntVar(&f.servePort, "serve", -1, "serve the profile's source over gRPC on given port (0 for auto)")
	flag.StringVar(&f.connectAddr, "connect", "", "drain a remote source served at host:port")
	flag.BoolVar(&f.debug, "debug", false, "log every stream event")
	flag.StringVar(&f.overrides.Kind, "kind", "", "source kind: sequential, push, transcript or remote")
	flag.StringVar(&f.overrides.Mode, "mode", "", "settlement mode: sync or deferred")
	flag.IntVar(&f.overrides.Limit, "limit", -1, "last position a sequential source produces (0 for an empty stream)")
	flag.StringVar(&f.hwm, "hwm", "", "high-water mark of the count queuing strategy")
	flag.StringVar(&f.overrides.Path, "path", "", "transcript file for the transcript source")
	flag.Parse()

	if f.hwm != "" {
		qs, err := strategy.ParseCount(f.hwm)
		if err != nil {
			fmt.Fprintf(os.Stderr, "-hwm: %v\n", err)
			os.Exit(2)
		}
		f.overrides.HighWaterMark = qs.HighWaterMark()
	}
	if f.connectAddr != "" {
		f.overrides.Kind = config.KindRemote
		f.overrides.Addr = f.connectAddr
	}

	if err := run(f); err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type usageError struct{ error }

func run(f flags) error {
	envFiles := []string(f.envFiles)
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	if _, err := config.LoadEnvFiles(envFiles); err != nil {
		return usageError{err}
	}

	var cfg config.Config
	var err error
	if f.cfgPath == "" {
		if p, ok := config.FindExistingDefaultConfig(); ok {
			f.cfgPath = p
		}
	}
	if f.cfgPath != "" {
		cfg, err = config.Load(f.cfgPath)
		if err != nil {
			return usageError{fmt.Errorf("load config: %w", err)}
		}
	}

	level := slog.LevelInfo
	if f.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	profile, err := config.Resolve(cfg, f.profile, f.overrides)
	if err != nil {
		return usageError{err}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var exec eventloop.Executor = eventloop.Immediate{}
	if profile.Mode == config.ModeDeferred {
		loop := eventloop.NewLoop()
		defer loop.Close()
		exec = loop
	}

	var opts []adapter.Option
	if f.auditDBPath != "" {
		store, err := audit.Open(ctx, f.auditDBPath)
		if err != nil {
			return fmt.Errorf("open audit db: %w", err)
		}
		defer store.Close()
		opts = append(opts, adapter.WithJournal(store))
	}
	opts = append(opts, adapter.WithName(profile.Kind), adapter.WithLogger(logger))

	if f.servePort >= 0 {
		return serve(ctx, f.servePort, profile, exec, logger)
	}

	qs := strategy.NewCount(*profile.HighWaterMark)
	out := os.Stdout
	switch profile.Kind {
	case config.KindSequential:
		s, _ := adapter.Sequential(*profile.Limit, exec, qs, opts...)
		return drainTo(ctx, out, s, func(i int) string { return fmt.Sprint(i) })
	case config.KindTranscript:
		src := source.NewTranscriptFile(profile.Path, exec)
		s, _ := adapter.NewStream[acpinspect.Summary](src, qs, opts...)
		return drainTo(ctx, out, s, acpinspect.Summary.String)
	case config.KindRemote:
		src, err := remote.Dial(ctx, profile.Addr, exec)
		if err != nil {
			return err
		}
		defer src.Close()
		s, _ := adapter.NewStream[[]byte](src, qs, opts...)
		return drainTo(ctx, out, s, func(b []byte) string { return string(b) })
	case config.KindPush:
		return runPush(ctx, out, profile, exec)
	}
	return usageError{fmt.Errorf("unknown source kind %q", profile.Kind)}
}

// drainTo collects every chunk of s and writes one line per chunk.
func drainTo[T any](ctx context.Context, w io.Writer, s *stream.ReadableStream[T], render func(T) string) error {
	chunks, err := collect.Drain[T](ctx, s)
	if err != nil {
		return fmt.Errorf("drain stream: %w", err)
	}
	for _, c := range chunks {
		if _, err := fmt.Fprintln(w, render(c)); err != nil {
			return err
		}
	}
	slog.Info("stream drained", "chunks", len(chunks))
	return nil
}

func runPush(ctx context.Context, w io.Writer, p config.Profile, exec eventloop.Executor) error {
	interval, err := p.IntervalDuration()
	if err != nil {
		return err
	}
	pushOpts := []source.PushOption{source.WithExecutor(exec), source.WithChunkSize(p.ChunkSize)}
	if interval > 0 {
		pushOpts = append(pushOpts, source.WithInterval(interval))
	}
	push := source.NewPush(p.Count, pushOpts...)

	ended := make(chan struct{})
	push.OnData = func(chunk string) { fmt.Fprintln(w, chunk) }
	push.OnEnd = func() { close(ended) }
	push.ReadStart()

	select {
	case <-ended:
		slog.Info("push source ended", "pushed", push.Pushed())
	case <-ctx.Done():
		if err := push.ReadStop(); err != nil {
			return err
		}
		slog.Info("push source stopped", "pushed", push.Pushed())
	}
	return nil
}

func serve(ctx context.Context, port int, p config.Profile, exec eventloop.Executor, logger *slog.Logger) error {
	var factory remote.Factory
	switch p.Kind {
	case config.KindSequential:
		factory = remote.SequentialFactory(*p.Limit, exec)
	case config.KindTranscript:
		path := p.Path
		factory = func(context.Context) (source.PullSource[[]byte], error) {
			src := source.NewTranscriptFile(path, exec)
			return source.Map[acpinspect.Summary, []byte](src, func(s acpinspect.Summary) []byte { return []byte(s.String()) }), nil
		}
	default:
		return usageError{fmt.Errorf("cannot serve a %s source", p.Kind)}
	}

	// Register the frame codec for the gRPC tunnel.
	encoding.RegisterCodec(remote.FrameCodec)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("stream-gate server listening", "addr", lis.Addr().String(), "kind", p.Kind)

	grpcServer := grpc.NewServer(grpc.ForceServerCodec(remote.FrameCodec))
	remote.RegisterPullServer(grpcServer, &remote.PullService{Cfg: remote.ServerConfig{
		Factory: factory,
		Logger:  logger,
	}})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		grpcServer.GracefulStop()
		return nil
	})
	return g.Wait()
}
