package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/toleds/rag-bot/internal/agent/model"
	errx "github.com/toleds/rag-bot/internal/core/error"
)

// HeaderUserID identifies the caller's session.
const HeaderUserID = "x-user-id"

// QueryRequest is the body of the conversation endpoints.
type QueryRequest struct {
	Query string `json:"query" binding:"required"`
}

// QuestionAnswerResponse is the one-shot grounded answer.
type QuestionAnswerResponse struct {
	Query      string                   `json:"query"`
	Collection string                   `json:"collection"`
	Result     string                   `json:"result"`
	Source     []model.FragmentMetadata `json:"source"`
}

func bindQuery(c *gin.Context) (string, bool) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		respondError(c, errx.Validation("query is required"))
		return "", false
	}
	return req.Query, true
}

func userID(c *gin.Context) string {
	if u := strings.TrimSpace(c.GetHeader(HeaderUserID)); u != "" {
		return u
	}
	return model.AnonymousUser
}

// Generate runs one conversation turn for the caller's session.
// POST /v1/generate
func (s *Server) Generate(c *gin.Context) {
	query, ok := bindQuery(c)
	if !ok {
		return
	}
	answer, err := s.deps.Runner.Invoke(c.Request.Context(), model.QueryInput{UserID: userID(c), Query: query})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

// GenerateStream runs one turn and streams the answer line by line.
// POST /v1/generate-stream
func (s *Server) GenerateStream(c *gin.Context) {
	query, ok := bindQuery(c)
	if !ok {
		return
	}
	answer, err := s.deps.Runner.Invoke(c.Request.Context(), model.QueryInput{UserID: userID(c), Query: query})
	if err != nil {
		respondError(c, err)
		return
	}

	lines := strings.Split(answer, "\n")
	delay := s.opts.HTTP.StreamChunkDelay
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	for i, line := range lines {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if i < len(lines)-1 {
			line += "\n"
		}
		if _, err := c.Writer.WriteString(line); err != nil {
			return
		}
		c.Writer.Flush()
	}
}

// QuestionAnswer answers from the closest fragments without session memory.
// POST /v1/question-answer
func (s *Server) QuestionAnswer(c *gin.Context) {
	query, ok := bindQuery(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var (
		docs []model.ScoredFragment
		err  error
	)
	if s.opts.MaxDistance > 0 {
		docs, err = s.deps.Searcher.RetrieveWithScore(ctx, query, s.opts.MaxDistance)
	} else {
		docs, err = s.deps.Searcher.Search(ctx, query)
	}
	if err != nil && !errors.Is(err, errx.ErrNoResults) {
		respondError(c, err)
		return
	}

	result, err := s.deps.Generator.Generate(ctx, query, docs, "")
	if err != nil {
		respondError(c, err)
		return
	}

	var source []model.FragmentMetadata
	if len(docs) > 0 {
		source = make([]model.FragmentMetadata, 0, len(docs))
		for _, d := range docs {
			source = append(source, d.Metadata())
		}
	}
	c.JSON(http.StatusOK, QuestionAnswerResponse{
		Query:      query,
		Collection: s.deps.Store.ActiveCollection(),
		Result:     result,
		Source:     source,
	})
}
