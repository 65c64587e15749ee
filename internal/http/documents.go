package http

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/toleds/rag-bot/internal/agent/model"
	errx "github.com/toleds/rag-bot/internal/core/error"
	"github.com/toleds/rag-bot/internal/rag/extract"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

// UploadAcceptedMessage is returned once a document is queued for embedding.
const UploadAcceptedMessage = "Documents uploaded successfully.  Document embedding ongoing and will be available in a while."

// SimilarityResult is one entry of the similarity search response.
type SimilarityResult struct {
	Document string                 `json:"document"`
	Metadata model.FragmentMetadata `json:"metadata"`
	Score    float64                `json:"score"`
}

// AddDocument saves an uploaded .txt or .pdf file and ingests it in the background.
// POST /v1/add-document
func (s *Server) AddDocument(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		respondError(c, errx.Validation("file is required"))
		return
	}
	name := filepath.Base(file.Filename)
	if !extract.SupportedExtension(name) {
		respondError(c, errx.Validation(fmt.Sprintf("The file extension is not valid.: %s", strings.TrimPrefix(filepath.Ext(name), "."))))
		return
	}

	if err := os.MkdirAll(s.opts.ResourcePath, 0o755); err != nil {
		respondError(c, fmt.Errorf("create resource dir: %w", err))
		return
	}
	path := filepath.Join(s.opts.ResourcePath, name)
	if err := c.SaveUploadedFile(file, path); err != nil {
		respondError(c, fmt.Errorf("save upload: %w", err))
		return
	}

	collection := s.deps.Store.ActiveCollection()
	s.goBackground("add-document", func(context.Context) error {
		frags, err := s.deps.Loader.LoadFile(path)
		if err != nil {
			return err
		}
		return s.enqueue(collection, frags, path)
	})

	c.JSON(http.StatusAccepted, gin.H{"message": UploadAcceptedMessage})
}

// AddWebPages crawls root_url and ingests every page in the background.
// POST /v1/add-web-pages?root_url=
func (s *Server) AddWebPages(c *gin.Context) {
	rootURL := strings.TrimSpace(c.Query("root_url"))
	u, err := url.Parse(rootURL)
	if rootURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		respondError(c, errx.Validation("root_url must be an absolute http(s) url"))
		return
	}

	collection := s.deps.Store.ActiveCollection()
	s.goBackground("add-web-pages", func(ctx context.Context) error {
		frags, err := s.deps.Loader.Crawl(ctx, rootURL, s.opts.Crawl)
		if err != nil {
			return err
		}
		return s.enqueue(collection, frags, rootURL)
	})

	c.JSON(http.StatusAccepted, gin.H{"message": UploadAcceptedMessage})
}

// enqueue targets the collection that was active when the request arrived.
func (s *Server) enqueue(collection string, frags []model.Fragment, origin string) error {
	if len(frags) == 0 {
		logx.Warn().Str("origin", origin).Msg("No text extracted; nothing to ingest")
		return nil
	}
	taskID, err := s.deps.Ingester.EnqueueTo(collection, frags, true)
	if err != nil {
		return err
	}
	logx.Info().Str("origin", origin).Str("collection", collection).Uint64("task_id", taskID).Int("fragments", len(frags)).Msg("Document added to the queue")
	return nil
}

// SimilaritySearch returns the closest fragments with their distance.
// GET /v1/similarity-search?query=
func (s *Server) SimilaritySearch(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		respondError(c, errx.Validation("query is required"))
		return
	}

	docs, err := s.deps.Searcher.Search(c.Request.Context(), query)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]SimilarityResult, 0, len(docs))
	for _, d := range docs {
		out = append(out, SimilarityResult{
			Document: d.Content,
			Metadata: d.Metadata(),
			Score:    d.Distance,
		})
	}
	c.JSON(http.StatusOK, out)
}

// SwitchCollection makes collection_name the active collection, creating it when missing.
// POST /v1/switch-collection?collection_name=
func (s *Server) SwitchCollection(c *gin.Context) {
	name, err := s.deps.Store.GetOrCreateCollection(c.Request.Context(), strings.TrimSpace(c.Query("collection_name")))
	if err != nil {
		respondError(c, err)
		return
	}
	logx.Info().Str("collection", name).Msg("Switched active collection")
	c.JSON(http.StatusOK, gin.H{"collection": name})
}

// ListCollections returns every collection name.
// GET /v1/list-collection
func (s *Server) ListCollections(c *gin.Context) {
	names, err := s.deps.Store.ListCollections(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, names)
}

// InitializeVectorStore empties the active collection.
// POST /v1/initialize-vector-store
func (s *Server) InitializeVectorStore(c *gin.Context) {
	if err := s.deps.Store.ResetCollection(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	logx.Info().Str("collection", s.deps.Store.ActiveCollection()).Msg("Vector store initialized")
	c.JSON(http.StatusOK, gin.H{"status": "Vector store initialized!"})
}
