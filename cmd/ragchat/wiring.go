package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"ragchat/internal/backend"
	"ragchat/internal/config"
	"ragchat/internal/domain"
	"ragchat/internal/embedding/openai"
	"ragchat/internal/embedding/tfidf"
	"ragchat/internal/index"
	"ragchat/internal/index/cache"
	"ragchat/internal/knowledge"
	"ragchat/internal/llm"
	"ragchat/internal/summarizer"
)

// assembly is everything a command needs to talk to a backend.
type assembly struct {
	backend backend.Backend
	docs    []domain.Document
	closers []func() error
}

func (a *assembly) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}
}

// Summary describes the knowledge base, if one was loaded.
func (a *assembly) Summary(sentences int) string {
	if len(a.docs) == 0 {
		return "No knowledge base loaded."
	}
	return summarizer.NewFrequencySummarizer().Summarize(knowledge.Texts(a.docs), sentences)
}

func assemble(ctx context.Context, cfg *config.AppConfig) (*assembly, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &assembly{}
	kind, err := backend.ParseKind(cfg.Backend.Type)
	if err != nil {
		return nil, err
	}

	var completer domain.Completer
	if cfg.NeedsLLM() {
		if completer, err = buildCompleter(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Knowledge.Path != "" && kind != backend.KindRetrievalAugmented {
		// only for the summary line
		if a.docs, err = loadKnowledge(cfg); err != nil {
			return nil, err
		}
	}

	switch kind {
	case backend.KindEcho:
		a.backend = backend.NewEcho()
	case backend.KindLanguageModel:
		lm := backend.NewLanguageModel(completer, cfg.LLM.SystemPrompt)
		if lm.Budget, err = buildBudget(cfg); err != nil {
			return nil, err
		}
		a.backend = lm
	case backend.KindRetrievalAugmented:
		ix, docs, store, err := buildIndex(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.docs = docs
		a.closers = append(a.closers, store.Close)
		ra := backend.NewRetrievalAugmented(ix, completer, cfg.LLM.SystemPrompt, cfg.Retrieval.TopK)
		if ra.Model.Budget, err = buildBudget(cfg); err != nil {
			a.Close()
			return nil, err
		}
		a.backend = ra
	case backend.KindOrder:
		a.backend = backend.NewOrder(completer, cfg.LLM.SystemPrompt)
	}
	log.Info().Str("backend", string(a.backend.Kind())).Msg("backend ready")
	return a, nil
}

func buildCompleter(cfg *config.AppConfig) (domain.Completer, error) {
	key, err := cfg.LLMKey()
	if err != nil {
		return nil, err
	}
	client, err := llm.NewOpenAI(llm.OpenAIConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  key,
		Model:   cfg.LLM.Model,
	})
	if err != nil {
		return nil, err
	}
	return &llm.Retrying{
		Next:       client,
		Timeout:    time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
		MaxRetries: max(0, cfg.LLM.MaxRetries),
	}, nil
}

func buildBudget(cfg *config.AppConfig) (*backend.Budget, error) {
	if cfg.LLM.MaxPromptTokens <= 0 {
		return nil, nil
	}
	counter, err := llm.NewTiktoken(cfg.LLM.TokenizerEncoding)
	if err != nil {
		return nil, err
	}
	return &backend.Budget{Counter: counter, MaxTokens: cfg.LLM.MaxPromptTokens}, nil
}

func buildEmbedder(cfg *config.AppConfig) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "tfidf", "":
		return tfidf.NewEmbedder(), nil
	case "openai":
		key, err := cfg.EmbedderKey()
		if err != nil {
			return nil, err
		}
		oc := cfg.Embedder.OpenAI
		client, err := openai.NewClient(openai.Config{
			BaseURL:    oc.BaseURL,
			APIKey:     key,
			Model:      oc.Model,
			Timeout:    time.Duration(oc.TimeoutSecs) * time.Second,
			BatchSize:  oc.BatchSize,
			MaxRetries: oc.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return nil, domain.Ef(domain.ErrConfig, "build embedder", "unknown embedder: %s", cfg.Embedder.Type)
}

func openCache(cfg *config.AppConfig) (cache.Store, error) {
	switch cfg.Cache.Type {
	case "file", "":
		path := cfg.Cache.Path
		if path == "" {
			path = knowledge.DefaultCachePath(cfg.Knowledge.Path, ".json")
		}
		return cache.NewFileStore(path), nil
	case "bolt":
		path := cfg.Cache.Path
		if path == "" {
			path = knowledge.DefaultCachePath(cfg.Knowledge.Path, ".bolt")
		}
		store, err := cache.OpenBoltStore(path, 5*time.Second)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, domain.Ef(domain.ErrConfig, "open cache", "unknown cache type: %s", cfg.Cache.Type)
}

func loadKnowledge(cfg *config.AppConfig) ([]domain.Document, error) {
	return knowledge.Load(cfg.Knowledge.Path, knowledge.Options{
		ChunkSentences: cfg.Knowledge.ChunkSentences,
		ChunkOverlap:   cfg.Knowledge.ChunkOverlap,
	})
}

// buildIndex loads the knowledge base and brings the embedding cache up to
// date. The caller closes the returned cache store.
func buildIndex(ctx context.Context, cfg *config.AppConfig) (*index.Index, []domain.Document, cache.Store, error) {
	if cfg.Knowledge.Path == "" {
		return nil, nil, nil, domain.Ef(domain.ErrConfig, "build index", "knowledge.path is required")
	}
	docs, err := loadKnowledge(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	emb, err := buildEmbedder(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := openCache(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	ix := index.New(emb)
	hit, err := ix.LoadOrBuild(ctx, store, docs)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	log.Info().Bool("cache_hit", hit).Int("documents", ix.Len()).Str("embedder", emb.Name()).Str("cache", store.Path()).Msg("retrieval index ready")
	return ix, docs, store, nil
}
