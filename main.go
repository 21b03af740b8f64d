// ollamachat - A terminal client for streaming LLM chat.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/ollamachat/internal/config"
	"github.com/jeranaias/ollamachat/internal/history"
	"github.com/jeranaias/ollamachat/internal/storage"
	"github.com/jeranaias/ollamachat/internal/stream"
	"github.com/jeranaias/ollamachat/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file (default ~/.ollamachat/config.toml)")
		modelName   = flag.String("model", "", "model name (overrides config)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("ollamachat %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*configPath, *modelName); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, modelOverride string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if modelOverride != "" {
		cfg.Chat.Model = modelOverride
	}

	// The terminal belongs to the TUI; logs go to a file.
	if closeLog, err := redirectLog(); err == nil {
		defer closeLog()
	}

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	store := history.New(backend, storage.NewMigrator(backend).Load())

	consumer := stream.NewConsumer(stream.Config{
		Endpoint:      cfg.Endpoint(),
		Model:         cfg.Chat.Model,
		FlushInterval: cfg.FlushInterval(),
	}, store)

	p := tea.NewProgram(
		chat.New(store, consumer, cfg.Chat.Model),
		tea.WithAltScreen(),
	)

	store.OnChange = func() {
		p.Send(chat.RefreshMsg{})
	}
	consumer.OnState = func(s stream.State) {
		p.Send(chat.StreamStateMsg{State: s})
	}

	// Config edits take effect without a restart.
	if path, err := config.ConfigPath(); err == nil && configPath == "" {
		if w, err := config.NewWatcher(path, func(next *config.Config) {
			consumer.SetModel(next.Chat.Model)
			p.Send(chat.ModelChangedMsg{Name: next.Chat.Model})
		}); err == nil {
			defer w.Close()
		} else {
			log.Printf("main: config watcher unavailable: %v", err)
		}
	}

	_, runErr := p.Run()

	// Let an in-flight request settle so its final store write lands.
	consumer.Cancel()
	consumer.Wait()

	if runErr != nil {
		return fmt.Errorf("failed to run UI: %w", runErr)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

// openBackend selects the persistence backend from config.
func openBackend(cfg *config.Config) (storage.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		path := cfg.Storage.Path
		if path == "" {
			dir, err := config.ConfigDir()
			if err != nil {
				return nil, nil, err
			}
			path = filepath.Join(dir, "chat.db")
		}
		s, err := storage.NewSQLiteStore(path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	default:
		path := cfg.Storage.Path
		if path == "" {
			var err error
			path, err = storage.DefaultFilePath()
			if err != nil {
				return nil, nil, err
			}
		}
		return storage.NewFileStore(path), func() {}, nil
	}
}

// redirectLog points the standard logger at ~/.ollamachat/debug.log.
func redirectLog() (func(), error) {
	if err := config.EnsureConfigDir(); err != nil {
		return nil, err
	}
	dir, err := config.ConfigDir()
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "debug.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	log.SetOutput(f)
	return func() { f.Close() }, nil
}
