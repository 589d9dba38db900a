package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"stream-gate/internal/eventloop"
	"stream-gate/internal/source"
)

// Factory builds the source served on one tunnel.
type Factory func(ctx context.Context) (source.PullSource[[]byte], error)

// SequentialFactory serves a fresh source.Sequential per tunnel, with each
// position rendered as decimal text.
func SequentialFactory(limit int, exec eventloop.Executor) Factory {
	return func(context.Context) (source.PullSource[[]byte], error) {
		seq := source.NewSequential(limit, exec)
		return source.Map[int, []byte](seq, func(i int) []byte { return []byte(strconv.Itoa(i)) }), nil
	}
}

// ServerConfig provides the source factory and logger.
type ServerConfig struct {
	Factory Factory
	Logger  *slog.Logger
}

// PullService implements PullServer: every tunnel gets its own source, and
// each request frame is answered by exactly one reply frame.
type PullService struct {
	Cfg ServerConfig
}

func (s *PullService) Tunnel(stream Pull_TunnelServer) error {
	ctx := stream.Context()
	logger := s.Cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if s.Cfg.Factory == nil {
		return fmt.Errorf("server misconfigured: no source factory")
	}
	src, err := s.Cfg.Factory(ctx)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	// Close is idempotent on every source, so this is safe after a
	// client-sent close too. ctx may already be canceled here.
	defer func() {
		if _, err := src.Close().Wait(context.Background()); err != nil {
			logger.Debug("close source on tunnel exit", "err", err)
		}
	}()
	logger.Debug("pull tunnel opened")

	served := 0
	for {
		b, err := stream.Recv()
		if err == io.EOF {
			logger.Debug("pull tunnel closed", "chunks", served)
			return nil
		}
		if err != nil {
			return err
		}

		o, _, err := decodeFrame(b)
		if err != nil {
			if err := stream.Send(errorFrame(err)); err != nil {
				return err
			}
			continue
		}

		var reply []byte
		switch o {
		case opOpen:
			_, err := src.Open().Wait(ctx)
			reply = ackFrame(err)
		case opClose:
			_, err := src.Close().Wait(ctx)
			reply = ackFrame(err)
		case opRead:
			r, err := src.Read().Wait(ctx)
			switch {
			case err != nil:
				reply = errorFrame(err)
			case r.Done:
				reply = encodeFrame(opEnd, nil)
			default:
				served++
				reply = encodeFrame(opData, r.Chunk)
			}
		default:
			reply = errorFrame(fmt.Errorf("unknown request %s", o))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := stream.Send(reply); err != nil {
			return err
		}
	}
}

func ackFrame(err error) []byte {
	if err != nil {
		return errorFrame(err)
	}
	return encodeFrame(opOK, nil)
}
