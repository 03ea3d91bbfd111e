// codexbot bridges chat platforms, webhooks, and scheduled jobs to an
// LLM agent through a typed event bus.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/grvsrs/codexbot/pkg/agent"
	"github.com/grvsrs/codexbot/pkg/api"
	"github.com/grvsrs/codexbot/pkg/channels"
	"github.com/grvsrs/codexbot/pkg/channels/console"
	"github.com/grvsrs/codexbot/pkg/channels/discord"
	"github.com/grvsrs/codexbot/pkg/channels/telegram"
	"github.com/grvsrs/codexbot/pkg/config"
	"github.com/grvsrs/codexbot/pkg/events"
	"github.com/grvsrs/codexbot/pkg/logger"
	"github.com/grvsrs/codexbot/pkg/notify"
	"github.com/grvsrs/codexbot/pkg/scheduler"
	"github.com/grvsrs/codexbot/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "codexbot: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.LogLevel); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	logger.InfoCF("main", "codexbot starting", map[string]interface{}{
		"provider": cfg.Agent.Provider,
		"model":    cfg.Agent.Model,
	})

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	bus := events.NewBus()
	bus.Start()
	defer bus.Stop()

	runner, err := buildRunner(cfg.Agent)
	if err != nil {
		return err
	}
	bridge := agent.NewBridge(bus, runner, cfg.Agent.WorkingDirectory, cfg.Agent.DefaultUserID)
	bridge.Register()

	// Delivery: Telegram is the primary sender, Discord handles any
	// chat ids explicitly routed to it.
	var tg *telegram.Channel
	var dc *discord.Channel
	router := channels.NewRouter(nil)

	if cfg.Telegram.Token != "" {
		tg, err = telegram.NewChannel(cfg.Telegram.Token, bus)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		router = channels.NewRouter(tg)
		if err := tg.Start(); err != nil {
			return fmt.Errorf("telegram start: %w", err)
		}
		defer tg.Stop()
	}

	if cfg.Discord.Token != "" {
		dc, err = discord.NewChannel(cfg.Discord.Token)
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		if err := dc.Start(); err != nil {
			return fmt.Errorf("discord start: %w", err)
		}
		defer dc.Stop()
		router.AddRoute(dc, cfg.Discord.ChatIDs...)
	}

	notifier := notify.NewService(bus, router, notify.Options{
		DefaultChatIDs: cfg.Telegram.DefaultChatIDs,
		ParseMode:      cfg.Telegram.ParseMode,
	})
	notifier.Register()
	notifier.Start()
	defer notifier.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(bus, store, cfg.Agent.WorkingDirectory)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("scheduler start: %w", err)
		}
		defer sched.Stop()
	}

	server := api.NewServer(cfg.Gateway, bus, store, sched)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("api server start: %w", err)
	}
	defer server.Stop()

	var term *console.Channel
	if cfg.Console.Enabled {
		term = console.NewChannel(bus)
		if err := term.Start(); err != nil {
			return fmt.Errorf("console start: %w", err)
		}
		defer term.Stop()
		router.AddRoute(term, console.ChatID)
	}

	logger.InfoC("main", "codexbot running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.InfoCF("main", "Shutting down", map[string]interface{}{
		"signal": sig.String(),
	})
	return nil
}

func buildRunner(cfg config.AgentConfig) (agent.Runner, error) {
	pricing := agent.Pricing{
		InputPerMTok:  cfg.InputPerMTok,
		OutputPerMTok: cfg.OutputPerMTok,
	}
	switch cfg.Provider {
	case "anthropic":
		return agent.NewAnthropicRunner(cfg.APIKey, cfg.Model, cfg.MaxTokens, pricing), nil
	case "openai":
		return agent.NewOpenAIRunner(cfg.APIKey, cfg.Model, pricing), nil
	default:
		return nil, fmt.Errorf("unknown agent provider %q", cfg.Provider)
	}
}
