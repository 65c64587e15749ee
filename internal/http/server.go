// Package http exposes ingestion, retrieval and conversation over a gin API.
package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/toleds/rag-bot/internal/agent/graph"
	"github.com/toleds/rag-bot/internal/agent/model"
	"github.com/toleds/rag-bot/internal/rag/extract"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

// Ingester accepts fragments for background embedding into a collection.
type Ingester interface {
	EnqueueTo(collection string, fragments []model.Fragment, persist bool) (uint64, error)
}

// Searcher runs similarity queries against the active collection.
type Searcher interface {
	Search(ctx context.Context, query string) ([]model.ScoredFragment, error)
	RetrieveWithScore(ctx context.Context, query string, maxDistance float64) ([]model.ScoredFragment, error)
}

// Answerer produces a grounded answer from fragments.
type Answerer interface {
	Generate(ctx context.Context, question string, docs []model.ScoredFragment, history string) (string, error)
}

// Deps are the services the API is built on.
type Deps struct {
	Store     model.ChunkStore
	Ingester  Ingester
	Loader    *extract.Loader
	Searcher  Searcher
	Generator Answerer
	Runner    graph.Runner
}

// Options tune the server.
type Options struct {
	HTTP         model.HTTPConfig
	ResourcePath string
	Crawl        extract.CrawlOptions
	// MaxDistance filters question-answer context; 0 keeps every match.
	MaxDistance float64
}

// Server owns the gin engine and the background ingestion jobs it starts.
type Server struct {
	deps    Deps
	opts    Options
	router  *gin.Engine
	handler http.Handler
	server  *http.Server

	// background jobs run on baseCtx so they outlive the request
	baseCtx context.Context
	cancel  context.CancelFunc
	jobs    sync.WaitGroup
}

// NewServer registers every route under /v1.
func NewServer(deps Deps, opts Options) *Server {
	if opts.HTTP.StreamChunkDelay < 0 {
		opts.HTTP.StreamChunkDelay = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:    deps,
		opts:    opts,
		router:  gin.New(),
		baseCtx: ctx,
		cancel:  cancel,
	}

	s.router.Use(recovery(), requestLogger(), processTime())
	s.registerRoutes()

	origins := opts.HTTP.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{HeaderProcessTime, "Content-Length", "Content-Type"},
	})
	s.handler = c.Handler(s.router)
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.router.Group("/v1")
	{
		// documents
		v1.POST("/add-document", s.AddDocument)
		v1.POST("/add-web-pages", s.AddWebPages)
		v1.GET("/similarity-search", s.SimilaritySearch)
		v1.POST("/switch-collection", s.SwitchCollection)
		v1.GET("/list-collection", s.ListCollections)
		v1.POST("/initialize-vector-store", s.InitializeVectorStore)

		// conversation
		v1.POST("/generate", s.Generate)
		v1.POST("/generate-stream", s.GenerateStream)
		v1.POST("/question-answer", s.QuestionAnswer)
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.opts.HTTP.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.opts.HTTP.ReadTimeout,
		WriteTimeout: s.opts.HTTP.WriteTimeout,
	}

	logx.Info().Str("addr", s.opts.HTTP.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, cancels running extraction jobs and
// waits for them to hand their fragments to the ingester.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logx.Warn().Msg("Background extraction jobs still running at shutdown")
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// goBackground runs fn as a tracked job.
func (s *Server) goBackground(name string, fn func(ctx context.Context) error) {
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer func() {
			if r := recover(); r != nil {
				logx.Error().Str("job", name).Msgf("panic recovered: %v", r)
			}
		}()
		start := time.Now()
		if err := fn(s.baseCtx); err != nil {
			logx.Error().Err(err).Str("job", name).Msg("Background job failed")
			return
		}
		logx.Info().Str("job", name).Dur("duration", time.Since(start)).Msg("Background job finished")
	}()
}
