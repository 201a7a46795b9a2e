package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/recall/internal/config"
	"github.com/felixgeelhaar/recall/internal/credential"
	"github.com/felixgeelhaar/recall/internal/guard"
	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/felixgeelhaar/recall/internal/plugin"
	"github.com/felixgeelhaar/recall/internal/provider"
	"github.com/felixgeelhaar/recall/internal/session"
	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/felixgeelhaar/recall/internal/summarize"
	"github.com/felixgeelhaar/recall/internal/token"
)

func recallDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".recall")
}

func getStore() store.Storage {
	s, err := store.NewSQLiteStore(filepath.Join(recallDir(), "recall.db"))
	if err != nil {
		fmt.Printf("Failed to init store: %v\n", err)
		os.Exit(1)
	}
	return s
}

func getObserver() *observe.Observer {
	if ciMode {
		return observe.NewJSON(os.Stdout, verbose)
	}
	return observe.New(os.Stdout, verbose)
}

func loadProfile() config.Profile {
	path := configPath
	if path == "" {
		path = filepath.Join(recallDir(), "recall.yaml")
	}
	profile, err := config.Load(path)
	if err != nil {
		fmt.Printf("Failed to load profile: %v\n", err)
		os.Exit(1)
	}
	if providerType != "" {
		profile.Provider = providerType
	}
	if modelName != "" {
		profile.Model = modelName
	}

	res := profile.Validate()
	for _, w := range res.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	if !res.Valid {
		fmt.Printf("Invalid profile: %s\n", strings.Join(res.Errors, "; "))
		os.Exit(1)
	}
	return profile
}

// buildProvider wires the configured model backend, resolving its API key
// from the encrypted credential vault.
func buildProvider(profile config.Profile, s store.Storage) (provider.Provider, error) {
	apiKey := ""
	vault, err := credential.NewVault()
	if err == nil {
		key, lookupErr := vault.LookupKey(s, profile.Provider)
		if lookupErr == nil {
			apiKey = key
		} else if !errors.Is(lookupErr, credential.ErrNotFound) {
			return nil, lookupErr
		}
	}

	switch profile.Provider {
	case "openai":
		return provider.NewOpenAIProvider(apiKey, profile.BaseURL, profile.Model)
	case "anthropic":
		p, err := provider.NewAnthropicProvider(apiKey, profile.Model)
		if err != nil {
			return nil, err
		}
		if profile.BaseURL != "" {
			p.SetBaseURL(profile.BaseURL)
		}
		return p, nil
	case "ollama":
		return provider.NewOllamaProvider(profile.Model)
	case "gemini":
		return provider.NewGeminiProvider(apiKey, profile.Model)
	case "cli":
		path, _ := s.GetConfig("provider.cli.path")
		if path == "" {
			return nil, fmt.Errorf("provider.cli.path not configured")
		}
		return provider.NewCLIProvider(path, []string{})
	default:
		return nil, fmt.Errorf("unknown provider: %s", profile.Provider)
	}
}

// buildSummarizer prefers an external plugin when the profile names one,
// otherwise it summarizes through the configured provider. The returned
// cleanup must run before exit.
func buildSummarizer(profile config.Profile, p provider.Provider) (summarize.Summarizer, func(), error) {
	if profile.PluginPath != "" {
		sum, client, err := plugin.Client(profile.PluginPath)
		if err != nil {
			return nil, nil, err
		}
		return sum, client.Kill, nil
	}
	counter := token.NewCounter("cl100k_base")
	sum := summarize.NewProviderSummarizer(p, counter, profile.MaxDigestTokens, time.Duration(profile.ModelTimeout))
	return sum, func() {}, nil
}

// openManager assembles the session manager. Commands that never reach the
// model (add, show, sessions, clear without --archive) pass needModel=false
// and run without provider credentials. When the provider cannot be built
// (no credential configured, say), reads still work: summarization degrades
// to the static fallback and archive search is unavailable.
func openManager(obs *observe.Observer, s store.Storage, profile config.Profile, needModel bool) (*session.Manager, func(), error) {
	var (
		sum     summarize.Summarizer
		prov    provider.Provider
		cleanup = func() {}
	)

	if needModel {
		p, err := buildProvider(profile, s)
		if err != nil {
			obs.Log().Warn().Err(err).Msg("provider unavailable, degrading to static summarization")
		} else {
			prov = p
		}
		if prov != nil || profile.PluginPath != "" {
			sum, cleanup, err = buildSummarizer(profile, prov)
			if err != nil {
				return nil, nil, err
			}
		} else {
			sum = summarize.StaticSummarizer{}
		}
	} else {
		sum = summarize.StaticSummarizer{}
	}

	opts := []session.Option{
		session.WithObserver(obs),
		session.WithGuard(guard.New(profile.GuardPolicy(), token.NewCounter("cl100k_base"))),
		session.WithCounter(token.NewCounter("cl100k_base")),
	}
	if prov != nil {
		opts = append(opts, session.WithEmbedder(prov))
	}

	mgr, err := session.NewManager(s, sum, profile.SessionConfig(), opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return mgr, cleanup, nil
}
