package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/warmloop/agent/internal/agent"
	"github.com/warmloop/agent/internal/api"
	"github.com/warmloop/agent/internal/browser"
	"github.com/warmloop/agent/internal/llm"
	"github.com/warmloop/agent/internal/macro"
	"github.com/warmloop/agent/internal/runstore"
	"github.com/warmloop/agent/internal/snapshot"
	"github.com/warmloop/agent/internal/task"
)

type cliOptions struct {
	task      string
	mode      string
	maxSteps  int
	tasksFile string
	redisAddr string
	dbPath    string
	listen    string
	listTasks bool
	headless  bool
	stepDelay time.Duration
}

func main() {
	_ = godotenv.Load()
	opts := parseFlags()
	// the flag wins over AGENT_HEADLESS only when given explicitly
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "headless" {
			os.Setenv("AGENT_HEADLESS", strconv.FormatBool(opts.headless))
		}
	})

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	catalog, err := loadCatalog(opts.tasksFile)
	if err != nil {
		log.Fatal().Err(err).Msg("task catalog")
	}
	if opts.listTasks {
		for _, id := range catalog.IDs() {
			fmt.Println(id)
		}
		return
	}
	if opts.task == "" {
		log.Fatal().Msgf("no task given; use -task with one of: %s", strings.Join(catalog.IDs(), ", "))
	}
	tk, err := catalog.Get(opts.task)
	if err != nil {
		log.Fatal().Err(err).Msg("task lookup")
	}
	if opts.maxSteps > 0 {
		tk.MaxSteps = opts.maxSteps
	}
	mode, err := agent.ParseMode(opts.mode)
	if err != nil {
		log.Fatal().Err(err).Msg("mode")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	macros := newMacroStore(opts.redisAddr)

	var records *runstore.Store
	if opts.dbPath != "" {
		records, err = runstore.Open(opts.dbPath, log.With().Str("comp", "runstore").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("run store")
		}
		defer records.Close()
	}

	bus := api.NewBus()
	if opts.listen != "" {
		if records == nil {
			log.Fatal().Msg("-listen requires -db")
		}
		srv := api.NewServer(records, bus, log.With().Str("comp", "api").Logger())
		go func() {
			log.Info().Str("addr", opts.listen).Msg("http listening")
			if err := http.ListenAndServe(opts.listen, srv.Handler()); err != nil {
				log.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	llmClient, err := llm.NewClientWithLogger(log.With().Str("comp", "llm").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("llm init")
	}

	launcher, err := browser.NewLauncher(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("browser init")
	}
	defer launcher.Close()

	env := runEnv{
		launcher: launcher,
		llm:      llmClient,
		macros:   macros,
		records:  records,
		bus:      bus,
		delay:    opts.stepDelay,
	}

	if mode == agent.ModeTwice {
		cold, err := env.runPhase(ctx, tk, agent.ModeCold)
		if err != nil {
			report(cold)
			os.Exit(1)
		}
		warm, err := env.runPhase(ctx, tk, agent.ModeWarm)
		if err != nil {
			report(warm)
			os.Exit(1)
		}
		composite := agent.ComposeTwice(cold, warm)
		report(composite)
		if !composite.Success {
			os.Exit(1)
		}
		return
	}

	rec, err := env.runPhase(ctx, tk, mode)
	report(rec)
	if err != nil || !rec.Metrics.Success {
		os.Exit(1)
	}
}

type runEnv struct {
	launcher *browser.Launcher
	llm      llm.Client
	macros   macro.Store
	records  *runstore.Store
	bus      *api.Bus
	delay    time.Duration
}

// runPhase gives each run a fresh browser context so no cookies or storage
// leak between the cold and warm phases of a twice run.
func (e runEnv) runPhase(ctx context.Context, tk task.Task, mode agent.Mode) (agent.RunRecord, error) {
	ctrl, err := e.launcher.NewController(ctx)
	if err != nil {
		return agent.RunRecord{}, fmt.Errorf("browser controller: %w", err)
	}
	defer ctrl.Close(ctx)

	planner := agent.NewPlanner(e.llm, e.macros, log.With().Str("comp", "planner").Logger())
	sinks := []agent.Sink{
		agent.LogSink{Logger: log.With().Str("comp", "events").Logger()},
		e.bus,
	}
	if e.records != nil {
		sinks = append(sinks, e.records)
	}
	runner := agent.NewRunner(
		agent.Config{StepDelay: e.delay},
		planner,
		ctrl,
		func(c context.Context) (snapshot.Summary, error) {
			oc, cancel := snapshot.WithDeadline(c, 10*time.Second)
			defer cancel()
			return snapshot.Collect(oc, ctrl)
		},
		e.macros,
		log.With().Str("comp", "runner").Str("mode", string(mode)).Logger(),
	).WithSink(agent.MultiSink(sinks...))
	if e.records != nil {
		runner.WithRecords(e.records)
	}

	return runner.Run(ctx, tk, mode)
}

func newMacroStore(addr string) macro.Store {
	if addr == "" {
		log.Info().Msg("no redis address, running without learning")
		return macro.Disabled()
	}
	return macro.NewRedis(macro.Config{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	}, log.With().Str("comp", "macro").Logger())
}

func loadCatalog(path string) (*task.Catalog, error) {
	if path == "" {
		return task.Builtin(), nil
	}
	return task.LoadCatalog(path)
}

func report(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("encode report")
		return
	}
	fmt.Println(string(data))
}

func parseFlags() cliOptions {
	taskID := flag.String("task", "", "Task ID from the catalog")
	mode := flag.String("mode", "cold", "Run mode: cold, warm or twice")
	maxSteps := flag.Int("max-steps", 0, "Override the task's step budget")
	tasksFile := flag.String("tasks", "", "Extra task definitions (YAML)")
	redisAddr := flag.String("redis", "localhost:6379", "Redis address for the macro store (empty disables learning)")
	dbPath := flag.String("db", "", "SQLite path for run records (empty disables persistence)")
	listen := flag.String("listen", "", "HTTP listen address for run status and event streams")
	list := flag.Bool("list", false, "List known task IDs and exit")
	headless := flag.Bool("headless", true, "Run the browser headless")
	stepDelay := flag.Duration("step-delay", time.Second, "Pause between action and re-observation")
	flag.Parse()
	return cliOptions{
		task:      strings.TrimSpace(*taskID),
		mode:      strings.TrimSpace(*mode),
		maxSteps:  *maxSteps,
		tasksFile: strings.TrimSpace(*tasksFile),
		redisAddr: strings.TrimSpace(*redisAddr),
		dbPath:    strings.TrimSpace(*dbPath),
		listen:    strings.TrimSpace(*listen),
		listTasks: *list,
		headless:  *headless,
		stepDelay: *stepDelay,
	}
}
