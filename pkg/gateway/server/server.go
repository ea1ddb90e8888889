// Package server assembles the gateway: storage, retrieval, tools, voice
// upstreams, and the HTTP surface that ties them together.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/casavox/casavox/pkg/assist"
	"github.com/casavox/casavox/pkg/chat/session"
	"github.com/casavox/casavox/pkg/chat/store"
	"github.com/casavox/casavox/pkg/gateway/config"
	"github.com/casavox/casavox/pkg/gateway/handlers"
	"github.com/casavox/casavox/pkg/gateway/mw"
	"github.com/casavox/casavox/pkg/retrieval"
	"github.com/casavox/casavox/pkg/retrieval/embed"
	"github.com/casavox/casavox/pkg/retrieval/vector"
	"github.com/casavox/casavox/pkg/retrieval/vector/qdrantstore"
	"github.com/casavox/casavox/pkg/tools"
	"github.com/casavox/casavox/pkg/voice/stt"
	"github.com/casavox/casavox/pkg/voice/tts"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store    store.Store
	searcher vector.Searcher
}

// New opens the storage backend and wires every component. The returned
// server owns the store and vector client; release them with Close.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(ctx, cfg.StoreBackend, cfg.PostgresDSN, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var cache session.StateCache
	if cfg.RedisAddr != "" {
		cache = session.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}
	sessions := session.NewManager(st, cache, logger)

	var searcher vector.Searcher
	var retriever *retrieval.Retriever
	if cfg.QdrantURL != "" {
		searcher, err = qdrantstore.New(qdrantstore.Config{
			URL:            cfg.QdrantURL,
			APIKey:         cfg.QdrantAPIKey,
			CollectionName: cfg.PropertyCollection,
			Logger:         logger,
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("open vector store: %w", err)
		}
		embedder := embed.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.UpstreamResponseHeaderTimeout)
		retriever = retrieval.New(embedder, searcher, logger)
	} else {
		logger.Warn("vector search disabled, no qdrant url configured")
	}

	provider := assist.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.ChatModel, cfg.UpstreamResponseHeaderTimeout, logger)
	transcriber := stt.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.TranscribeModel, cfg.UpstreamResponseHeaderTimeout)
	synthesizer := tts.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.SpeechModel, cfg.SpeechVoice, cfg.UpstreamResponseHeaderTimeout)

	search := tools.NewPropertySearch(retriever)
	crm := tools.NewCRM(st)

	engine := &handlers.Engine{
		Sessions:   sessions,
		Provider:   provider,
		Search:     search,
		CRM:        crm,
		Retriever:  retriever,
		RetrievalK: cfg.RetrievalK,
		Logger:     logger,
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		store:    st,
		searcher: searcher,
	}
	s.routes(engine, sessions, transcriber, synthesizer, search, crm)
	return s, nil
}

func (s *Server) routes(engine *handlers.Engine, sessions *session.Manager, transcriber stt.Transcriber, synthesizer tts.Synthesizer, search *tools.PropertySearch, crm *tools.CRM) {
	s.mux.Handle("/healthz", handlers.HealthHandler{})

	s.mux.Handle("/v1/chat", &handlers.ChatHandler{
		Engine:       engine,
		MaxBodyBytes: s.cfg.MaxBodyBytes,
		Logger:       s.logger,
	})
	s.mux.Handle("/v1/chat/session", &handlers.SessionHandler{
		Sessions: sessions,
		Logger:   s.logger,
	})
	s.mux.Handle("/v1/tools", &handlers.ToolsHandler{
		Registry:     tools.DefaultRegistry(search, crm),
		MaxBodyBytes: s.cfg.MaxBodyBytes,
	})
	s.mux.Handle("/v1/voice/transcribe", &handlers.TranscribeHandler{
		Transcriber:  transcriber,
		MaxBodyBytes: s.cfg.MaxBodyBytes,
		Logger:       s.logger,
	})
	s.mux.Handle("/v1/voice/speech", &handlers.SpeechHandler{
		Synthesizer: synthesizer,
		Logger:      s.logger,
	})
	s.mux.Handle("/v1/feedback", &handlers.FeedbackHandler{
		Store:  s.store,
		Logger: s.logger,
	})
	s.mux.Handle("/v1/call", &handlers.CallHandler{
		Engine:          engine,
		Transcriber:     transcriber,
		Synthesizer:     synthesizer,
		Logger:          s.logger,
		ChunkInterval:   s.cfg.CallChunkInterval,
		FlushIdle:       s.cfg.CallFlushIdle,
		FlushMax:        s.cfg.CallFlushMax,
		MaxSessionTime:  s.cfg.CallMaxSessionTime,
		PingInterval:    s.cfg.CallPingInterval,
		WriteTimeout:    s.cfg.CallWriteTimeout,
		MaxMessageBytes: s.cfg.CallMaxMessageBytes,
		Voice:           s.cfg.SpeechVoice,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

func (s *Server) Close() error {
	if s.searcher != nil {
		_ = s.searcher.Close()
	}
	return s.store.Close()
}
