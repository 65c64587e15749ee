package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toleds/rag-bot/internal/agent/graph"
	"github.com/toleds/rag-bot/internal/agent/model"
	"github.com/toleds/rag-bot/internal/agent/repo"
	"github.com/toleds/rag-bot/internal/rag/embedding"
	"github.com/toleds/rag-bot/internal/rag/extract"
	"github.com/toleds/rag-bot/internal/rag/generator"
	"github.com/toleds/rag-bot/internal/rag/ingest"
	"github.com/toleds/rag-bot/internal/rag/retrieval"
	"github.com/toleds/rag-bot/internal/rag/store"
)

// echoModel answers with a fixed reply and records the prompts it saw.
type echoModel struct {
	mu      sync.Mutex
	reply   string
	prompts []string
}

func (m *echoModel) Generate(_ context.Context, in []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, in[len(in)-1].Content)
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *echoModel) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

type fixture struct {
	server *Server
	store  *store.MemoryStore
	queue  *ingest.Queue
	model  *echoModel
}

func newFixture(t *testing.T, reply string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.NewMemoryStore(embedding.NewHashEmbedder(64), "")
	require.NoError(t, err)
	q, err := ingest.NewQueue(st)
	require.NoError(t, err)

	cm := &echoModel{reply: reply}
	gen, err := generator.New(cm, "gemini-2.5-flash")
	require.NoError(t, err)
	ret := retrieval.NewService(st, retrieval.DefaultTopK, retrieval.DefaultSearchTopK)

	var conv model.ConversationConfig
	conv.Mode = string(graph.ModeSequential)
	runner, err := graph.BuildRunner(context.Background(), graph.Config{
		Retriever:    ret,
		Generator:    gen,
		Memory:       repo.NewMemorySessionMemory(0),
		Conversation: conv,
	})
	require.NoError(t, err)

	srv := NewServer(Deps{
		Store:     st,
		Ingester:  q,
		Loader:    extract.NewLoader(),
		Searcher:  ret,
		Generator: gen,
		Runner:    runner,
	}, Options{
		HTTP:         model.HTTPConfig{StreamChunkDelay: time.Millisecond},
		ResourcePath: t.TempDir(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		_ = q.Close(ctx)
	})
	return &fixture{server: srv, store: st, queue: q, model: cm}
}

func (f *fixture) do(t *testing.T, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func (f *fixture) ingest(t *testing.T, collection string, frags ...model.Fragment) {
	t.Helper()
	before, _ := f.store.Count(context.Background(), collection)
	_, err := f.queue.EnqueueTo(collection, frags, false)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		n, _ := f.store.Count(context.Background(), collection)
		return n >= before+len(frags)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestManilaEndToEnd(t *testing.T) {
	f := newFixture(t, "Manila")
	f.ingest(t, model.DefaultCollection, model.Fragment{Content: "Manila is the capital of the Philippines", SourceID: "wiki.txt"})

	w := f.do(t, http.MethodGet, "/v1/similarity-search?query=What+is+the+capital+of+the+Philippines%3F", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var results []SimilarityResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "Manila is the capital of the Philippines", results[0].Document)
	assert.Equal(t, "wiki.txt", results[0].Metadata.Source)
	assert.Nil(t, results[0].Metadata.Page)

	w = f.do(t, http.MethodPost, "/v1/question-answer", gin.H{"query": "What is the capital of the Philippines?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "What is the capital of the Philippines?", body["query"])
	assert.Equal(t, model.DefaultCollection, body["collection"])
	assert.Equal(t, "Manila", body["result"])
	assert.Equal(t, []any{map[string]any{"source": "wiki.txt", "page": nil}}, body["source"])

	require.NotEmpty(t, f.model.prompts)
	assert.Contains(t, f.model.prompts[0], "DO NOT add any information outside of it")
	assert.Contains(t, f.model.prompts[0], "Context: Manila is the capital of the Philippines")
}

func TestSimilaritySearchOnEmptyCollectionIs404(t *testing.T) {
	f := newFixture(t, "x")
	w := f.do(t, http.MethodGet, "/v1/similarity-search?query=anything", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail":"No similar documents found.  Kindly refine your query."}`, w.Body.String())
}

func TestQuestionAnswerWithoutDocumentsHasNullSource(t *testing.T) {
	f := newFixture(t, "I don't know.")
	w := f.do(t, http.MethodPost, "/v1/question-answer", gin.H{"query": "anything"})
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Nil(t, body["source"])
	assert.Equal(t, "I don't know.", body["result"])
}

func TestQuestionAnswerDropsDistantFragments(t *testing.T) {
	f := newFixture(t, "I don't know.")
	f.server.opts.MaxDistance = 0.5
	f.ingest(t, model.DefaultCollection,
		model.Fragment{Content: "Manila is the capital of the Philippines", SourceID: "wiki.txt"},
		model.Fragment{Content: "Bananas are rich in potassium", SourceID: "food.txt"},
	)

	w := f.do(t, http.MethodPost, "/v1/question-answer", gin.H{"query": "Manila capital Philippines"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []any{map[string]any{"source": "wiki.txt", "page": nil}}, body["source"])

	w = f.do(t, http.MethodPost, "/v1/question-answer", gin.H{"query": "volcano eruption"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Nil(t, body["source"])
}

func TestCollectionSwitchIsolation(t *testing.T) {
	f := newFixture(t, "x")

	w := f.do(t, http.MethodPost, "/v1/switch-collection?collection_name=A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"collection":"A"}`, w.Body.String())
	f.ingest(t, "A", model.Fragment{Content: "only in A", SourceID: "a.txt"})

	w = f.do(t, http.MethodGet, "/v1/similarity-search?query=only", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "only in A")

	w = f.do(t, http.MethodPost, "/v1/switch-collection?collection_name=B", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodGet, "/v1/similarity-search?query=only", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/v1/list-collection", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var names []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &names))
	assert.Contains(t, names, "A")
	assert.Contains(t, names, "B")
}

func TestInitializeVectorStoreResetsActiveCollection(t *testing.T) {
	f := newFixture(t, "x")
	f.ingest(t, model.DefaultCollection, model.Fragment{Content: "gone soon", SourceID: "g.txt"})

	w := f.do(t, http.MethodPost, "/v1/initialize-vector-store", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"Vector store initialized!"}`, w.Body.String())

	n, err := f.store.Count(context.Background(), model.DefaultCollection)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func upload(t *testing.T, f *fixture, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/add-document", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func TestAddDocumentIngestsInBackground(t *testing.T) {
	f := newFixture(t, "x")
	w := upload(t, f, "wiki.txt", "Manila is the capital of the Philippines")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"message":"`+UploadAcceptedMessage+`"}`, w.Body.String())

	saved := filepath.Join(f.server.opts.ResourcePath, "wiki.txt")
	_, err := os.Stat(saved)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, _ := f.store.Count(context.Background(), model.DefaultCollection)
		return n == 1
	}, 5*time.Second, 10*time.Millisecond)

	docs, err := f.store.SimilarityQuery(context.Background(), "capital", 1)
	require.NoError(t, err)
	assert.Equal(t, saved+":None:0", docs[0].DerivedID)
}

func TestAddDocumentRejectsBadExtension(t *testing.T) {
	f := newFixture(t, "x")
	w := upload(t, f, "notes.md", "# notes")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"detail":"The file extension is not valid.: md"}`, w.Body.String())
}

func TestAddWebPagesValidatesURL(t *testing.T) {
	f := newFixture(t, "x")
	w := f.do(t, http.MethodPost, "/v1/add-web-pages?root_url=ftp://example.com", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddWebPagesCrawlsInBackground(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><p>Manila is the capital of the Philippines</p></body></html>`))
	}))
	defer site.Close()

	f := newFixture(t, "x")
	w := f.do(t, http.MethodPost, "/v1/add-web-pages?root_url="+site.URL+"/", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		n, _ := f.store.Count(context.Background(), model.DefaultCollection)
		return n == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAddWebPagesKeepsCollectionActiveAtRequest(t *testing.T) {
	release := make(chan struct{})
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><p>Manila is the capital of the Philippines</p></body></html>`))
	}))
	defer site.Close()

	f := newFixture(t, "x")
	w := f.do(t, http.MethodPost, "/v1/switch-collection?collection_name=A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodPost, "/v1/add-web-pages?root_url="+site.URL+"/", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = f.do(t, http.MethodPost, "/v1/switch-collection?collection_name=B", nil)
	require.Equal(t, http.StatusOK, w.Code)
	close(release)

	require.Eventually(t, func() bool {
		n, _ := f.store.Count(context.Background(), "A")
		return n == 1
	}, 5*time.Second, 10*time.Millisecond)
	n, err := f.store.Count(context.Background(), "B")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGenerateRemembersPerUser(t *testing.T) {
	f := newFixture(t, "Manila")
	f.ingest(t, model.DefaultCollection, model.Fragment{Content: "Manila is the capital of the Philippines", SourceID: "wiki.txt"})

	w := f.do(t, http.MethodPost, "/v1/generate", gin.H{"query": "capital?"}, HeaderUserID, "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"answer":"Manila"}`, w.Body.String())

	w = f.do(t, http.MethodPost, "/v1/generate", gin.H{"query": "again?"}, HeaderUserID, "alice")
	require.Equal(t, http.StatusOK, w.Code)

	f.model.mu.Lock()
	defer f.model.mu.Unlock()
	require.Len(t, f.model.prompts, 2)
}

func TestGenerateWithoutDocumentsIs404(t *testing.T) {
	f := newFixture(t, "x")
	w := f.do(t, http.MethodPost, "/v1/generate", gin.H{"query": "capital?"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "detail")
}

func TestGenerateRequiresQuery(t *testing.T) {
	f := newFixture(t, "x")
	w := f.do(t, http.MethodPost, "/v1/generate", gin.H{"q": "wrong field"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerateStreamSendsLines(t *testing.T) {
	f := newFixture(t, "line one\nline two\nline three")
	f.ingest(t, model.DefaultCollection, model.Fragment{Content: "ctx", SourceID: "c.txt"})

	w := f.do(t, http.MethodPost, "/v1/generate-stream", gin.H{"query": "tell me"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
	assert.Equal(t, "line one\nline two\nline three", w.Body.String())
}

func TestProcessTimeHeader(t *testing.T) {
	f := newFixture(t, "x")
	w := f.do(t, http.MethodGet, "/v1/list-collection", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderProcessTime))

	w = f.do(t, http.MethodGet, "/v1/similarity-search?query=x", nil)
	assert.NotEmpty(t, w.Header().Get(HeaderProcessTime), "set on errors too")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, "x")
	req := httptest.NewRequest(http.MethodOptions, "/v1/generate", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
