package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/JacobLinCool/cpta/internal/batch"
	"github.com/JacobLinCool/cpta/internal/cases"
	"github.com/JacobLinCool/cpta/internal/config"
	"github.com/JacobLinCool/cpta/internal/extensions"
	"github.com/JacobLinCool/cpta/internal/judge"
	"github.com/JacobLinCool/cpta/internal/ledger"
	"github.com/JacobLinCool/cpta/internal/pipeline"
	"github.com/JacobLinCool/cpta/internal/providers"
	"github.com/JacobLinCool/cpta/internal/sandbox"
	"github.com/JacobLinCool/cpta/internal/workspace"
)

// runtimeEnv is everything a grading command needs, built once per
// invocation.
type runtimeEnv struct {
	cfg         *config.Config
	logger      zerolog.Logger
	provisioner sandbox.Provisioner
	pipeline    *pipeline.Pipeline
	registry    *cases.Registry
	ledger      *ledger.Ledger
	judge       *terminalJudge
	closers     []io.Closer
}

func (r *runtimeEnv) Close() {
	if r.judge != nil {
		r.judge.Close()
	}
	if r.ledger != nil {
		r.ledger.Close()
	}
	for _, c := range r.closers {
		c.Close()
	}
}

// changedFlags is the part of a flag set applyFlags needs.
type changedFlags interface {
	Changed(name string) bool
}

// applyFlags lets command-line flags override the loaded configuration.
func applyFlags(flags changedFlags, cfg *config.Config) {
	if flags.Changed("workspace") {
		cfg.Root = rootFlag
	}
	if flags.Changed("cases") {
		cfg.Cases = casesFlag
	}
	if flags.Changed("build") {
		cfg.Build = buildFlag
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = concurrencyFlag
	}
	if flags.Changed("sandbox") {
		cfg.Sandbox.Mode = sandboxFlag
	}
	if flags.Changed("image") {
		cfg.Sandbox.Image = imageFlag
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevelFlag
	}
	if noLedgerFlag {
		cfg.Ledger.Enabled = false
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		used string
		err  error
	)
	if m, merr := config.NewManager(); merr == nil {
		cfg, used, err = m.Load(configFlag)
	} else {
		cfg, used, err = config.Load(configFlag)
	}
	if err != nil {
		return nil, "", err
	}
	applyFlags(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, used, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
}

// prepareRuntimeEnv loads the configuration and wires the pipeline. A
// provisioner is only created when withSandbox is set, so eval and
// history work without Docker.
func prepareRuntimeEnv(ctx context.Context, cmd *cobra.Command, withSandbox bool) (*runtimeEnv, error) {
	cfg, used, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.LogLevel)
	if used != "" {
		logger.Debug().Str("path", used).Msg("config loaded")
	}

	env := &runtimeEnv{cfg: cfg, logger: logger, registry: cases.NewRegistry(), judge: &terminalJudge{}}

	err = extensions.Register(env.registry, extensions.Deps{Completer: completerFor(cfg)})
	if err != nil {
		return nil, err
	}

	if withSandbox {
		prov, err := sandbox.NewProvisioner(ctx, cfg.SandboxLimits(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to set up sandbox: %w", err)
		}
		env.provisioner = prov
		if c, ok := prov.(io.Closer); ok {
			env.closers = append(env.closers, c)
		}
	}

	env.pipeline = pipeline.New(env.provisioner,
		pipeline.WithJudge(env.judge),
		pipeline.WithLogger(logger),
		pipeline.WithStepTimeout(cfg.StepTimeout),
	)

	if cfg.Ledger.Enabled {
		l, err := ledger.Open(ctx, cfg.Ledger.Path)
		if err != nil {
			logger.Warn().Err(err).Msg("run ledger unavailable, outcomes will not be recorded")
		} else {
			env.ledger = l
		}
	}
	return env, nil
}

// completerFor builds the LLM client on first use, so a missing API key
// only fails the steps that need a model.
func completerFor(cfg *config.Config) func() (providers.Completer, error) {
	return sync.OnceValues(func() (providers.Completer, error) {
		c, err := providers.New(cfg.Providers())
		if err != nil {
			return nil, err
		}
		return providers.WithRetry(c, providers.DefaultRetryPolicy), nil
	})
}

// selector turns --pattern, --names and positional names into a
// workspace selector.
func selector(pattern string, names []string) (workspace.Selector, error) {
	var sel workspace.Selector
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return sel, fmt.Errorf("invalid workspace pattern: %w", err)
		}
		sel.Pattern = re
	}
	if len(names) > 0 {
		sel.Names = mapset.NewSet(names...)
	}
	return sel, nil
}

func (r *runtimeEnv) driver(sel workspace.Selector) *batch.Driver {
	return &batch.Driver{
		Pipeline:    r.pipeline,
		Root:        r.cfg.Root,
		Select:      sel,
		Concurrency: r.cfg.Concurrency,
		Logger:      r.logger,
		Progress: func(p batch.Progress) {
			ev := r.logger.Info()
			if p.Err != nil {
				ev = r.logger.Warn().Str("error", batch.Diagnostic(p.Err))
			}
			ev.Str("op", string(p.Op)).Str("workspace", p.Workspace).
				Msgf("[%d/%d]", p.Done, p.Total)
		},
	}
}

// record runs fn with a ledger recorder attached to d, if the ledger is
// available.
func (r *runtimeEnv) record(ctx context.Context, d *batch.Driver, op batch.Op, fn func() (*batch.Report, error)) (*batch.Report, error) {
	if r.ledger == nil {
		return fn()
	}
	rec, err := r.ledger.StartRun(ctx, op, r.cfg.Root)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to start ledger run")
		return fn()
	}
	d.Recorder = rec
	defer func() {
		d.Recorder = nil
		if err := rec.Finish(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn().Err(err).Msg("failed to finish ledger run")
		}
	}()
	return fn()
}

// terminalJudge opens the terminal on the first interactive case.
type terminalJudge struct {
	once sync.Once
	t    *judge.Terminal
	err  error
}

func (j *terminalJudge) Decide(ctx context.Context, req judge.Request) (judge.Decision, error) {
	j.once.Do(func() { j.t, j.err = judge.NewTerminal() })
	if j.err != nil {
		return judge.Decision{}, j.err
	}
	return j.t.Decide(ctx, req)
}

func (j *terminalJudge) Close() error {
	if j.t == nil {
		return nil
	}
	return j.t.Close()
}
