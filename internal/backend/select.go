package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kandev/acp-bridge/internal/logging"
)

// Mode selects which concrete adapter is preferred at startup (spec §6.4
// BACKEND_MODE).
type Mode string

const (
	ModeSubprocess Mode = "subprocess"
	ModeHTTP       Mode = "http"
)

// SelectConfig bundles everything needed to construct either adapter.
type SelectConfig struct {
	Preferred Mode

	SubprocessPath string
	SubprocessArgs []string
	SubprocessEnv  []string

	HTTP HTTPConfig
}

// Select builds and probes the preferred adapter via Authenticate; if the
// probe fails, it falls back to the other adapter and logs why (spec §4.10:
// "If the preferred adapter fails its probe ... the bridge falls back to the
// other and records the reason").
func Select(ctx context.Context, cfg SelectConfig, log *logging.Logger) (Agent, error) {
	logger := log.WithFields(zap.String("component", "backend-select"))

	build := func(mode Mode) Agent {
		switch mode {
		case ModeHTTP:
			return NewHTTPAgent(cfg.HTTP, log)
		default:
			return NewSubprocessAgent(cfg.SubprocessPath, cfg.SubprocessArgs, cfg.SubprocessEnv, log)
		}
	}

	fallback := ModeHTTP
	if cfg.Preferred == ModeHTTP {
		fallback = ModeSubprocess
	}

	primary := build(cfg.Preferred)
	if err := primary.Authenticate(ctx); err == nil {
		logger.Info("backend adapter selected", zap.String("mode", string(cfg.Preferred)))
		return primary, nil
	} else {
		logger.Warn("preferred backend adapter failed probe, falling back",
			zap.String("preferred", string(cfg.Preferred)),
			zap.String("fallback", string(fallback)),
			zap.Error(err))
	}

	secondary := build(fallback)
	if err := secondary.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("backend: both adapters failed probe: %w", err)
	}
	logger.Info("backend adapter selected", zap.String("mode", string(fallback)))
	return secondary, nil
}
