// Command agent is the process entry point: it parses the CLI surface,
// wires every pipeline component together for the `start` subcommand,
// and offers `stop`/`pause`/`resume`/`status`/`safety`/`config` as
// lightweight operator commands that act on the on-disk configuration
// document and a running agent's pidfile.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"github.com/lokutor-ai/stream-commentator/pkg/audio"
	"github.com/lokutor-ai/stream-commentator/pkg/config"
	"github.com/lokutor-ai/stream-commentator/pkg/contextstore"
	"github.com/lokutor-ai/stream-commentator/pkg/coordinator"
	"github.com/lokutor-ai/stream-commentator/pkg/domain"
	"github.com/lokutor-ai/stream-commentator/pkg/failover"
	"github.com/lokutor-ai/stream-commentator/pkg/logging"
	"github.com/lokutor-ai/stream-commentator/pkg/metrics"
	"github.com/lokutor-ai/stream-commentator/pkg/moderation"
	"github.com/lokutor-ai/stream-commentator/pkg/opportunity"
	"github.com/lokutor-ai/stream-commentator/pkg/policy"
	"github.com/lokutor-ai/stream-commentator/pkg/providers"
	"github.com/lokutor-ai/stream-commentator/pkg/providers/chat"
	llmProvider "github.com/lokutor-ai/stream-commentator/pkg/providers/llm"
	moderationProvider "github.com/lokutor-ai/stream-commentator/pkg/providers/moderation"
	sttProvider "github.com/lokutor-ai/stream-commentator/pkg/providers/stt"
	"github.com/lokutor-ai/stream-commentator/pkg/ratelimit"
	"github.com/lokutor-ai/stream-commentator/pkg/scheduler"
	"github.com/lokutor-ai/stream-commentator/pkg/sttpipeline"
	"github.com/lokutor-ai/stream-commentator/pkg/supervisor"
)

const version = "0.1.0"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("note: no .env file found, using system environment variables")
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(supervisor.ExitError)
	}

	var code int
	switch os.Args[1] {
	case "start":
		code = cmdStart(os.Args[2:])
	case "stop":
		code = cmdSignalPID(syscall.SIGTERM)
	case "pause":
		code = cmdSignalPID(syscall.SIGUSR1)
	case "resume":
		code = cmdSignalPID(syscall.SIGUSR2)
	case "status":
		code = cmdStatus()
	case "safety":
		code = cmdSafety(os.Args[2:])
	case "config":
		code = cmdConfig(os.Args[2:])
	case "--version", "-v":
		fmt.Println("stream-commentator " + version)
		code = supervisor.ExitOK
	case "--help", "-h":
		printUsage()
		code = supervisor.ExitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		printUsage()
		code = supervisor.ExitError
	}
	os.Exit(code)
}

func printUsage() {
	fmt.Println(`stream-commentator - autonomous livestream chat commentary agent

Usage:
  agent start <broadcastId> [--config <path>]   run the pipeline
  agent stop                                    stop a running agent
  agent pause                                   pause posting, keep capture/STT warm
  agent resume                                  resume posting
  agent status                                  report whether an agent is running
  agent safety <strict|standard|relaxed>        change the active safety level
  agent config get <path>                       read a config value
  agent config set <path> <value>               write a config value
  agent --version, -v                           print the version
  agent --help, -h                              print this message`)
}

const (
	defaultConfigPath = "agent.yaml"
	pidFilePath       = "agent.pid"
)

// cmdStart builds every pipeline component from the on-disk config
// document and environment-provided credentials, then runs the
// capture -> coordinator loop under the process supervisor until
// interrupted, terminated, or told to stop.
func cmdStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "path to the configuration document")
	if err := fs.Parse(args); err != nil {
		return supervisor.ExitError
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "start requires a broadcast id")
		return supervisor.ExitError
	}
	broadcastID := fs.Arg(0)

	logger, err := buildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return supervisor.ExitError
	}

	doc, err := loadOrInitConfig(*configPath)
	if err != nil {
		logger.Error("config: failed to load", "error", err)
		return supervisor.ExitError
	}

	shutdownMetrics, err := metrics.InitProvider(context.Background(), "stream-commentator", version)
	if err != nil {
		logger.Error("metrics: failed to init", "error", err)
		return supervisor.ExitError
	}
	meterMetrics, err := metrics.New(otel.Meter("stream-commentator"))
	if err != nil {
		logger.Error("metrics: failed to build instruments", "error", err)
		return supervisor.ExitError
	}

	sttList, err := buildSTTProviders(doc)
	if err != nil {
		logger.Error("stt: failed to configure providers", "error", err)
		return supervisor.ExitError
	}
	sttPipeline, err := sttpipeline.New(sttList, sttpipeline.DefaultReconnectPolicy(), logger)
	if err != nil {
		logger.Error("sttpipeline: failed to start", "error", err)
		return supervisor.ExitError
	}

	llmList, err := buildLLMProviders(doc)
	if err != nil {
		logger.Error("llm: failed to configure providers", "error", err)
		return supervisor.ExitError
	}
	llmCtrl, err := failover.New(logger, llmList...)
	if err != nil {
		logger.Error("llm: failed to build failover controller", "error", err)
		return supervisor.ExitError
	}
	llmCtrl.SetMetrics(meterMetrics)
	llm := llmProvider.NewFailover(llmCtrl)

	lokutorKey := os.Getenv("LOKUTOR_API_KEY")
	if lokutorKey == "" {
		logger.Error("missing credential", "error", errors.New("LOKUTOR_API_KEY is required to post chat comments"))
		return supervisor.ExitError
	}
	chatProvider := chat.NewLokutorChat(lokutorKey, 30*time.Second)

	moderationMgr, err := buildModerationManager(doc, logger)
	if err != nil {
		logger.Error("moderation: failed to configure providers", "error", err)
		return supervisor.ExitError
	}
	moderationMgr.SetMetrics(meterMetrics)

	policyEngine := policy.NewEngine()
	ctxStore := contextstore.New()
	oppDetector := opportunity.New(opportunity.DefaultConfig(), llm)
	rateLimiter := ratelimit.New(ratelimitConfigFrom(doc))
	rateLimiter.SetMetrics(meterMetrics)

	sched := scheduler.New(scheduler.Config{
		ProcessingInterval: time.Second,
		MaxRetries:         3,
		RetryDelay:         5 * time.Second,
		QueueCapacity:      256,
	}, rateLimiter, func(ctx context.Context, c domain.ScheduledComment) error {
		_, postErr := chatProvider.Post(ctx, broadcastID, c.Text)
		return postErr
	}, logger)
	sched.SetMetrics(meterMetrics)

	coord := coordinator.New(
		sttPipeline,
		ctxStore,
		oppDetector,
		llm,
		policyEngine,
		moderationMgr,
		rateLimiter,
		sched,
		chatProvider,
		coordinator.Config{
			MinCommentInterval: time.Duration(doc.RateLimit.MinIntervalSeconds) * time.Second,
			RewriteGuidelines:  "Keep the persona and tone; remove only what triggered moderation.",
		},
		doc.ToCommentPolicy(),
		logger,
	)

	sup := supervisor.New(30*time.Second, logger)
	sup.RegisterCleanup("metrics", func(ctx context.Context) error { return shutdownMetrics(ctx) })
	sup.RegisterCleanup("scheduler", func(ctx context.Context) error { sched.Stop(); return nil })

	if err := writePidFile(); err != nil {
		logger.Warn("failed to write pidfile, stop/pause/resume commands will be unavailable", "error", err)
	} else {
		sup.RegisterCleanup("pidfile", func(ctx context.Context) error { return os.Remove(pidFilePath) })
	}

	healthCtx, cancelHealth := context.WithCancel(context.Background())
	stopLLMHealth := llmCtrl.RunHealthProbe(healthCtx, 30*time.Second)
	sup.RegisterCleanup("health-probe", func(ctx context.Context) error {
		stopLLMHealth()
		cancelHealth()
		return nil
	})

	pauseCh := make(chan os.Signal, 1)
	registerPauseResumeSignals(pauseCh)

	code := sup.Run(context.Background(), func(ctx context.Context) error {
		chatID, err := chatProvider.GetLiveChatID(ctx, broadcastID)
		if err != nil {
			return fmt.Errorf("resolve live chat id: %w", err)
		}
		coord.Start(chatID)
		sched.Start(ctx)

		return runAudioLoop(ctx, coord, chatID, logger, pauseCh)
	})
	return code
}

// runAudioLoop captures microphone audio, chunks it into utterances
// with an energy-based VAD, and hands each finished utterance to the
// coordinator. It also honors external pause/resume signals without
// tearing down capture or the STT pipeline: while paused, capture keeps
// running but the stopped coordinator skips every utterance (no
// transcription, context update, generation or posting).
func runAudioLoop(ctx context.Context, coord *coordinator.Coordinator, chatID string, logger logging.Logger, pauseCh <-chan os.Signal) error {
	cfg := audio.DefaultConfig()
	source, err := audio.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("open audio source: %w", err)
	}
	defer source.Stop(5 * time.Second)

	detector := audio.NewUtteranceDetector(0.02, 500*time.Millisecond)
	var buf []byte

	for {
		select {
		case <-ctx.Done():
			return nil

		case sig := <-pauseCh:
			switch sig {
			case syscall.SIGUSR1:
				logger.Info("pausing: posting suspended, capture stays warm")
				coord.Stop()
			case syscall.SIGUSR2:
				logger.Info("resuming")
				coord.Start(chatID)
			}

		case ev, ok := <-source.Events():
			if !ok {
				return nil
			}
			switch ev.Type {
			case audio.EventData:
				buf = append(buf, ev.Frame.PCM...)
				boundary := detector.Process(ev.Frame.PCM, ev.Frame.CapturedAt)
				if boundary != nil && boundary.Type == audio.SpeechEnd && len(buf) > 0 {
					wav := audio.NewWavBuffer(buf, cfg.SampleRate)
					buf = nil
					go func() {
						result := coord.ProcessAudio(ctx, wav, "")
						if result.Error != "" {
							logger.Debug("processAudio", "error", result.Error, "posted", result.Posted)
						}
					}()
				}
			case audio.EventError:
				logger.Warn("audio: runtime error", "error", ev.Err)
			case audio.EventReconnecting:
				logger.Warn("audio: reconnecting", "attempt", ev.Attempt)
			case audio.EventReconnected:
				logger.Info("audio: reconnected")
			}
		}
	}
}

func registerPauseResumeSignals(ch chan os.Signal) {
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGUSR2)
}

func buildLogger() (logging.Logger, error) {
	level := logging.LevelInfo
	if v := os.Getenv("AGENT_LOG_LEVEL"); v != "" {
		level = logging.Level(v)
	}
	cfg := logging.Config{Level: level}
	if dir := os.Getenv("AGENT_LOG_DIR"); dir != "" {
		cfg.Sink = &logging.FileSink{
			Directory:  dir,
			Filename:   "agent.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		}
	}
	return logging.New(cfg)
}

func loadOrInitConfig(path string) (*config.Document, error) {
	doc, err := config.Load(path)
	if err == nil {
		return doc, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}
	doc = config.DefaultDocument()
	if err := config.Save(doc, path); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}
	return doc, nil
}

// buildSTTProviders constructs the ordered provider list the STT
// pipeline fails over across, preferring the config document's primary
// then its fallback list, skipping any provider whose credential is
// absent from the environment.
func buildSTTProviders(doc *config.Document) ([]providers.StreamingSTTProvider, error) {
	order := append([]string{doc.Providers.STT.Primary}, doc.Providers.STT.Fallback...)
	var out []providers.StreamingSTTProvider
	seen := map[string]bool{}
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true
		p, ok := sttProviderFor(name)
		if ok {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no STT provider has a credential configured (checked %v)", order)
	}
	return out, nil
}

func sttProviderFor(name string) (providers.StreamingSTTProvider, bool) {
	switch name {
	case "groq":
		if key := os.Getenv("GROQ_API_KEY"); key != "" {
			model := os.Getenv("GROQ_STT_MODEL")
			if model == "" {
				model = "whisper-large-v3-turbo"
			}
			return sttProvider.NewGroqSTT(key, model), true
		}
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			return sttProvider.NewOpenAISTT(key, "whisper-1"), true
		}
	case "deepgram":
		if key := os.Getenv("DEEPGRAM_API_KEY"); key != "" {
			return sttProvider.NewDeepgramSTT(key), true
		}
	case "assemblyai":
		if key := os.Getenv("ASSEMBLYAI_API_KEY"); key != "" {
			return sttProvider.NewAssemblyAISTT(key), true
		}
	}
	return nil, false
}

// buildLLMProviders builds the ordered LLM failover list. The config
// document names a single primary (there being one active generation
// persona at a time), so the rest of the order is filled in from
// whichever other provider credentials are present, giving the
// FailoverController something real to fail over to rather than a
// single-entry list.
func buildLLMProviders(doc *config.Document) ([]providers.LLMProvider, error) {
	names := []string{doc.Providers.LLM.Primary, "groq", "openai", "anthropic", "google"}
	var out []providers.LLMProvider
	seen := map[string]bool{}
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		model := defaultLLMModel(name)
		if name == doc.Providers.LLM.Primary && doc.Providers.LLM.Model != "" {
			model = doc.Providers.LLM.Model
		}
		p, ok := llmProviderFor(name, model)
		if ok {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no LLM provider has a credential configured")
	}
	return out, nil
}

func defaultLLMModel(name string) string {
	switch name {
	case "groq":
		return "llama-3.3-70b-versatile"
	case "openai":
		return "gpt-4o"
	case "anthropic":
		return "claude-3-5-sonnet-20241022"
	case "google":
		return "gemini-1.5-flash"
	default:
		return ""
	}
}

func llmProviderFor(name, model string) (providers.LLMProvider, bool) {
	switch name {
	case "groq":
		if key := os.Getenv("GROQ_API_KEY"); key != "" {
			return llmProvider.NewGroqLLM(key, model), true
		}
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			return llmProvider.NewOpenAILLM(key, model), true
		}
	case "anthropic":
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			return llmProvider.NewAnthropicLLM(key, model), true
		}
	case "google":
		if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
			return llmProvider.NewGoogleLLM(key, model), true
		}
	}
	return nil, false
}

func buildModerationManager(doc *config.Document, logger logging.Logger) (*moderation.Manager, error) {
	var primary, fallback providers.ModerationProvider
	for _, name := range doc.Providers.Moderation {
		p, ok := moderationProviderFor(name)
		if !ok {
			continue
		}
		if primary == nil {
			primary = p
		} else if fallback == nil {
			fallback = p
		}
	}
	if primary == nil {
		if p, ok := moderationProviderFor("openai"); ok {
			primary = p
		} else if p, ok := moderationProviderFor("anthropic"); ok {
			primary = p
		}
	}
	if primary == nil {
		return nil, fmt.Errorf("no moderation provider has a credential configured")
	}
	return moderation.New(primary, fallback, doc.ToSafetyPolicy(), logger), nil
}

func moderationProviderFor(name string) (providers.ModerationProvider, bool) {
	switch name {
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			return moderationProvider.NewOpenAIModeration(key), true
		}
	case "anthropic":
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			return moderationProvider.NewAnthropicModeration(key), true
		}
	}
	return nil, false
}

func ratelimitConfigFrom(doc *config.Document) ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	cfg.WindowSize = doc.RateLimit.MessagesPerWindow
	cfg.WindowPeriod = time.Duration(doc.RateLimit.WindowSeconds) * time.Second
	cfg.MinInterval = time.Duration(doc.RateLimit.MinIntervalSeconds) * time.Second
	return cfg
}

func writePidFile() error {
	return os.WriteFile(pidFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPidFile() (int, error) {
	raw, err := os.ReadFile(pidFilePath)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(raw)))
}

// cmdSignalPID sends sig to the pid recorded in the pidfile. Remote
// administration is out of scope for a single long-running agent
// process; a pidfile plus a handful of well-known signals is the
// local-operator equivalent.
func cmdSignalPID(sig syscall.Signal) int {
	pid, err := readPidFile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "no running agent found: %v\n", err)
		return supervisor.ExitError
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return supervisor.ExitError
	}
	if err := proc.Signal(sig); err != nil {
		fmt.Fprintf(os.Stderr, "failed to signal pid %d: %v\n", pid, err)
		return supervisor.ExitError
	}
	return supervisor.ExitOK
}

func cmdStatus() int {
	pid, err := readPidFile()
	if err != nil {
		fmt.Println("not running")
		return supervisor.ExitOK
	}
	proc, err := os.FindProcess(pid)
	if err != nil || proc.Signal(syscall.Signal(0)) != nil {
		fmt.Println("not running (stale pidfile)")
		return supervisor.ExitOK
	}
	fmt.Printf("running (pid %d)\n", pid)
	return supervisor.ExitOK
}

// cmdSafety rewrites the active safety level directly on disk. A
// running agent loads its configuration document once at start and
// does not reload it, so the change takes effect on the next `start`.
func cmdSafety(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: agent safety <strict|standard|relaxed>")
		return supervisor.ExitError
	}
	level := domain.SafetyLevel(args[0])
	if level != domain.SafetyStrict && level != domain.SafetyStandard && level != domain.SafetyRelaxed {
		fmt.Fprintf(os.Stderr, "invalid safety level %q\n", args[0])
		return supervisor.ExitError
	}

	doc, err := config.Load(defaultConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return supervisor.ExitError
	}
	doc.Safety.Level = string(level)
	if err := config.Save(doc, defaultConfigPath); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return supervisor.ExitError
	}
	fmt.Printf("safety level set to %s\n", level)
	return supervisor.ExitOK
}

// cmdConfig implements `config get <path>` / `config set <path> <value>`
// over a small dotted-path subset of the document that operators
// realistically need to touch live: comment tone/persona, target
// length, emoji policy, and rate limits.
func cmdConfig(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: agent config <get|set> <path> [value]")
		return supervisor.ExitError
	}

	doc, err := config.Load(defaultConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return supervisor.ExitError
	}

	path := args[1]
	switch args[0] {
	case "get":
		v, err := configGet(doc, path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return supervisor.ExitError
		}
		fmt.Println(v)
		return supervisor.ExitOK
	case "set":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: agent config set <path> <value>")
			return supervisor.ExitError
		}
		if err := configSet(doc, path, args[2]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return supervisor.ExitError
		}
		if err := config.Save(doc, defaultConfigPath); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			return supervisor.ExitError
		}
		return supervisor.ExitOK
	default:
		fmt.Fprintln(os.Stderr, "usage: agent config <get|set> <path> [value]")
		return supervisor.ExitError
	}
}

func configGet(doc *config.Document, path string) (string, error) {
	switch path {
	case "comment.tone":
		return doc.Comment.Tone, nil
	case "comment.characterPersona":
		return doc.Comment.CharacterPersona, nil
	case "comment.targetLength.min":
		return strconv.Itoa(doc.Comment.TargetLength.Min), nil
	case "comment.targetLength.max":
		return strconv.Itoa(doc.Comment.TargetLength.Max), nil
	case "comment.emojiPolicy.enabled":
		return strconv.FormatBool(doc.Comment.EmojiPolicy.Enabled), nil
	case "safety.level":
		return doc.Safety.Level, nil
	case "rateLimit.messagesPerWindow":
		return strconv.Itoa(doc.RateLimit.MessagesPerWindow), nil
	case "rateLimit.minIntervalSeconds":
		return strconv.Itoa(doc.RateLimit.MinIntervalSeconds), nil
	default:
		return "", fmt.Errorf("unknown or unsettable config path %q", path)
	}
}

func configSet(doc *config.Document, path, value string) error {
	switch path {
	case "comment.tone":
		doc.Comment.Tone = value
	case "comment.characterPersona":
		doc.Comment.CharacterPersona = value
	case "comment.targetLength.min":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		doc.Comment.TargetLength.Min = n
	case "comment.targetLength.max":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		doc.Comment.TargetLength.Max = n
	case "comment.emojiPolicy.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		doc.Comment.EmojiPolicy.Enabled = b
	case "safety.level":
		doc.Safety.Level = value
	case "rateLimit.messagesPerWindow":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		doc.RateLimit.MessagesPerWindow = n
	case "rateLimit.minIntervalSeconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		doc.RateLimit.MinIntervalSeconds = n
	default:
		return fmt.Errorf("unknown or unsettable config path %q", path)
	}
	return doc.Validate()
}
