package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rendis/colloquy/internal/engine"
	"github.com/rendis/colloquy/internal/invokables"
	"github.com/rendis/colloquy/internal/llm"
	"github.com/rendis/colloquy/internal/logging"
	"github.com/rendis/colloquy/internal/store"
	"github.com/rendis/colloquy/internal/streaming"
	"github.com/rendis/colloquy/internal/template"
	"github.com/rendis/colloquy/internal/validation"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "colloquy",
		Short:         "Run scripted LLM dialogs from YAML templates",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("db", "", "database path (overrides COLLOQUY_DB_PATH)")
	root.PersistentFlags().String("templates", "", "directory of YAML templates to load")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newGraphCmd())
	root.AddCommand(newServeCmd())
	return root
}

// runtime bundles everything a command needs to execute dialogs.
type runtime struct {
	cfg       Config
	logger    *slog.Logger
	store     *store.LibSQLStore
	templates *template.Registry
	engine    *engine.Engine
	hub       *streaming.MemoryHub
	tools     *invokables.MCPToolProvider
	completer llm.Completer
}

func (rt *runtime) close() {
	if rt.tools != nil {
		_ = rt.tools.Close()
	}
	if rt.completer != nil {
		_ = rt.completer.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}

// buildRuntime assembles the store, registries, and engine from flags and
// configuration.
func buildRuntime(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	cfg := loadConfig()
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.DBPath = v
	}
	if v, _ := cmd.Flags().GetString("templates"); v != "" {
		cfg.TemplatesDir = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}

	logger := newLogger(cfg.LogLevel)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	templates := template.NewRegistry(validator)
	if cfg.TemplatesDir != "" {
		n, err := templates.LoadDir(cfg.TemplatesDir)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		logger.Info("templates loaded", slog.Int("count", n), slog.String("dir", cfg.TemplatesDir))
	}

	registry := invokables.NewRegistry()
	if err := invokables.RegisterBuiltins(registry); err != nil {
		_ = st.Close()
		return nil, err
	}

	var tools *invokables.MCPToolProvider
	if len(cfg.ToolServers) > 0 {
		tools = invokables.NewMCPToolProvider()
		for _, sc := range cfg.ToolServers {
			if err := tools.Connect(ctx, sc); err != nil {
				logger.Warn("mcp tool server unavailable",
					slog.String("server", sc.Name), slog.String("error", err.Error()))
				continue
			}
			logger.Info("mcp tool server connected", slog.String("server", sc.Name))
		}
		registry.SetToolCaller(tools)
	}

	var completer llm.Completer
	if cfg.OpenAIAPIKey != "" {
		completer, err = llm.NewOpenAICompleter(llm.OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			DefaultModel: cfg.DefaultModel,
		})
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	} else {
		logger.Warn("no openai api key configured, prompt steps will echo")
		completer = llm.NewFakeCompleter()
	}

	hub := streaming.NewMemoryHub()
	eng, err := engine.New(engine.Config{
		Store:      st,
		EventLog:   store.NewEventLog(st),
		Hub:        hub,
		Templates:  templates,
		Completer:  completer,
		Invokables: registry,
		Validator:  validator,
		Logger:     logger,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		templates: templates,
		engine:    eng,
		hub:       hub,
		tools:     tools,
		completer: completer,
	}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(handler))
}
