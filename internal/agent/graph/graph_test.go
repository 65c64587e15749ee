package graph

import (
	"context"
	"errors"
	"sync"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toleds/rag-bot/internal/agent/model"
	"github.com/toleds/rag-bot/internal/agent/repo"
	errx "github.com/toleds/rag-bot/internal/core/error"
	"github.com/toleds/rag-bot/internal/rag/generator"
)

// scriptedModel replies with queued messages and records every request.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []*schema.Message
	requests [][]*schema.Message
	tools    []*schema.ToolInfo
}

func (m *scriptedModel) Generate(_ context.Context, in []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, append([]*schema.Message(nil), in...))
	if len(m.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	out := m.replies[0]
	m.replies = m.replies[1:]
	return out, nil
}

func (m *scriptedModel) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (m *scriptedModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = tools
	return m, nil
}

type fakeRetriever struct {
	mu      sync.Mutex
	docs    []model.ScoredFragment
	err     error
	queries []string
}

func (r *fakeRetriever) Retrieve(_ context.Context, q string) ([]model.ScoredFragment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, q)
	return r.docs, r.err
}

// failingMemory loses every write.
type failingMemory struct {
	*repo.MemorySessionMemory
}

func (failingMemory) Append(context.Context, string, string, string) error {
	return errors.New("memory unavailable")
}

func manilaRetriever() *fakeRetriever {
	return &fakeRetriever{docs: []model.ScoredFragment{{
		Fragment: model.Fragment{Content: "Manila is the capital of the Philippines", SourceID: "wiki.txt"},
	}}}
}

func conversation(mode Mode) model.ConversationConfig {
	var c model.ConversationConfig
	c.Mode = string(mode)
	c.Tools.MaxCalls = 3
	c.History.MaxMessages = 20
	c.CostEnabled = true
	return c
}

func newGenerator(t *testing.T, replies ...string) (*generator.Generator, *scriptedModel) {
	t.Helper()
	cm := &scriptedModel{}
	for _, r := range replies {
		cm.replies = append(cm.replies, schema.AssistantMessage(r, nil))
	}
	gen, err := generator.New(cm, "gemini-2.5-flash")
	require.NoError(t, err)
	return gen, cm
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSequential, m)

	m, err = ParseMode(" Tool ")
	require.NoError(t, err)
	assert.Equal(t, ModeTool, m)

	_, err = ParseMode("merged")
	assert.Error(t, err)
}

func TestBuildRunnerValidatesConfig(t *testing.T) {
	ctx := context.Background()
	gen, _ := newGenerator(t)
	mem := repo.NewMemorySessionMemory(0)

	_, err := BuildRunner(ctx, Config{Generator: gen, Memory: mem, Conversation: conversation(ModeSequential)})
	assert.Error(t, err, "retriever is required")

	_, err = BuildRunner(ctx, Config{Retriever: manilaRetriever(), Generator: gen, Memory: mem, Conversation: conversation(ModeTool)})
	assert.Error(t, err, "tool mode needs a chat model")

	_, err = BuildRunner(ctx, Config{Retriever: manilaRetriever(), Generator: gen, Memory: mem, Conversation: conversation("loop")})
	assert.Error(t, err)
}

func TestSequentialAnswersAndRemembers(t *testing.T) {
	ctx := context.Background()
	gen, cm := newGenerator(t, "Manila", "The Pasig")
	mem := repo.NewMemorySessionMemory(0)
	retriever := manilaRetriever()

	runner, err := BuildRunner(ctx, Config{
		Retriever:    retriever,
		Generator:    gen,
		Memory:       mem,
		Conversation: conversation(ModeSequential),
	})
	require.NoError(t, err)

	answer, err := runner.Invoke(ctx, model.QueryInput{UserID: "u1", Query: "What is the capital of the Philippines?"})
	require.NoError(t, err)
	assert.Equal(t, "Manila", answer)
	assert.Equal(t, []string{"What is the capital of the Philippines?"}, retriever.queries)

	history, err := mem.RawHistory(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Question: What is the capital of the Philippines? Answer: Manila", history)

	first := cm.requests[0]
	require.Len(t, first, 1, "no history on the first turn")
	assert.Contains(t, first[0].Content, "Context: Manila is the capital of the Philippines")

	answer, err = runner.Invoke(ctx, model.QueryInput{UserID: "u1", Query: "Which river runs through it?"})
	require.NoError(t, err)
	assert.Equal(t, "The Pasig", answer)

	second := cm.requests[1]
	require.Len(t, second, 2)
	assert.Equal(t, schema.System, second[0].Role)
	assert.Contains(t, second[0].Content, "Question: What is the capital of the Philippines? Answer: Manila")
}

func TestSequentialSeparatesUsers(t *testing.T) {
	ctx := context.Background()
	gen, _ := newGenerator(t, "a1", "b1")
	mem := repo.NewMemorySessionMemory(0)
	runner, err := BuildRunner(ctx, Config{Retriever: manilaRetriever(), Generator: gen, Memory: mem, Conversation: conversation(ModeSequential)})
	require.NoError(t, err)

	_, err = runner.Invoke(ctx, model.QueryInput{UserID: "alice", Query: "qa"})
	require.NoError(t, err)
	_, err = runner.Invoke(ctx, model.QueryInput{Query: "qb"})
	require.NoError(t, err)

	h, _ := mem.RawHistory(ctx, "alice")
	assert.Equal(t, "Question: qa Answer: a1", h)
	h, _ = mem.RawHistory(ctx, model.AnonymousUser)
	assert.Equal(t, "Question: qb Answer: b1", h)
}

func TestSequentialPropagatesNoResults(t *testing.T) {
	ctx := context.Background()
	gen, cm := newGenerator(t, "unused")
	mem := repo.NewMemorySessionMemory(0)
	runner, err := BuildRunner(ctx, Config{
		Retriever:    &fakeRetriever{err: errx.NoResults()},
		Generator:    gen,
		Memory:       mem,
		Conversation: conversation(ModeSequential),
	})
	require.NoError(t, err)

	_, err = runner.Invoke(ctx, model.QueryInput{UserID: "u1", Query: "anything"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errx.ErrNoResults)
	assert.Empty(t, cm.requests, "generation is skipped")

	h, _ := mem.RawHistory(ctx, "u1")
	assert.Equal(t, model.NoHistoryPlaceholder, h)
}

func TestSequentialKeepsAnswerWhenMemoryWriteFails(t *testing.T) {
	ctx := context.Background()
	gen, _ := newGenerator(t, "Manila")
	runner, err := BuildRunner(ctx, Config{
		Retriever:    manilaRetriever(),
		Generator:    gen,
		Memory:       failingMemory{repo.NewMemorySessionMemory(0)},
		Conversation: conversation(ModeSequential),
	})
	require.NoError(t, err)

	answer, err := runner.Invoke(ctx, model.QueryInput{UserID: "u1", Query: "capital?"})
	require.NoError(t, err)
	assert.Equal(t, "Manila", answer)
}

func TestToolVariantDirectAnswer(t *testing.T) {
	ctx := context.Background()
	gen, genModel := newGenerator(t)
	chat := &scriptedModel{replies: []*schema.Message{schema.AssistantMessage("Hello! Ask me about your documents.", nil)}}
	mem := repo.NewMemorySessionMemory(0)
	retriever := manilaRetriever()

	runner, err := BuildRunner(ctx, Config{
		Retriever:    retriever,
		Generator:    gen,
		ChatModel:    chat,
		Memory:       mem,
		Conversation: conversation(ModeTool),
	})
	require.NoError(t, err)
	require.Len(t, chat.tools, 1)
	assert.Equal(t, "retrieve", chat.tools[0].Name)

	answer, err := runner.Invoke(ctx, model.QueryInput{UserID: "u1", Query: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello! Ask me about your documents.", answer)
	assert.Empty(t, retriever.queries)
	assert.Empty(t, genModel.requests)

	req := chat.requests[0]
	require.Len(t, req, 2)
	assert.Equal(t, schema.System, req[0].Role)
	assert.Equal(t, "hi", req[1].Content)

	msgs, err := mem.LoadMessages(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.User, msgs[0].Role)
	assert.Equal(t, "Hello! Ask me about your documents.", msgs[1].Content)
}

func TestToolVariantRetrievesThenAnswers(t *testing.T) {
	ctx := context.Background()
	gen, genModel := newGenerator(t, "Manila")
	chat := &scriptedModel{replies: []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{{
			Function: schema.FunctionCall{Name: "retrieve", Arguments: `{"query":"  capital of the Philippines "}`},
		}}),
	}}
	mem := repo.NewMemorySessionMemory(0)
	retriever := manilaRetriever()

	runner, err := BuildRunner(ctx, Config{
		Retriever:    retriever,
		Generator:    gen,
		ChatModel:    chat,
		Memory:       mem,
		Conversation: conversation(ModeTool),
	})
	require.NoError(t, err)

	answer, err := runner.Invoke(ctx, model.QueryInput{UserID: "u1", Query: "What is the capital of the Philippines?"})
	require.NoError(t, err)
	assert.Equal(t, "Manila", answer)
	assert.Equal(t, []string{"capital of the Philippines"}, retriever.queries)

	require.Len(t, genModel.requests, 1)
	final := genModel.requests[0]
	grounding := final[len(final)-1].Content
	assert.Contains(t, grounding, "Question: What is the capital of the Philippines?")
	assert.Contains(t, grounding, "Context: Manila is the capital of the Philippines")

	msgs, err := mem.LoadMessages(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 2, "only the question and the final answer are stored")
	assert.Equal(t, "Manila", msgs[1].Content)

	// the next turn sees the stored exchange
	chat.replies = append(chat.replies, schema.AssistantMessage("You asked about Manila.", nil))
	_, err = runner.Invoke(ctx, model.QueryInput{UserID: "u1", Query: "what did I ask?"})
	require.NoError(t, err)
	next := chat.requests[1]
	require.Len(t, next, 4)
	assert.Equal(t, "Manila", next[2].Content)
}

func TestToolVariantEmptyRetrieveArgumentsUseQuestion(t *testing.T) {
	ctx := context.Background()
	gen, _ := newGenerator(t, "Manila")
	chat := &scriptedModel{replies: []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{{
			Function: schema.FunctionCall{Name: "retrieve", Arguments: `{}`},
		}}),
	}}
	retriever := manilaRetriever()

	runner, err := BuildRunner(ctx, Config{
		Retriever:    retriever,
		Generator:    gen,
		ChatModel:    chat,
		Memory:       repo.NewMemorySessionMemory(0),
		Conversation: conversation(ModeTool),
	})
	require.NoError(t, err)

	answer, err := runner.Invoke(ctx, model.QueryInput{UserID: "u1", Query: "What is the capital of the Philippines?"})
	require.NoError(t, err)
	assert.Equal(t, "Manila", answer)
	assert.Equal(t, []string{"What is the capital of the Philippines?"}, retriever.queries)
}

func TestToolVariantPropagatesRetrievalError(t *testing.T) {
	ctx := context.Background()
	gen, _ := newGenerator(t, "unused")
	chat := &scriptedModel{replies: []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{{
			ID:       "c1",
			Function: schema.FunctionCall{Name: "retrieve", Arguments: `{"query":"x"}`},
		}}),
	}}
	runner, err := BuildRunner(ctx, Config{
		Retriever:    &fakeRetriever{err: errx.NoResults()},
		Generator:    gen,
		ChatModel:    chat,
		Memory:       repo.NewMemorySessionMemory(0),
		Conversation: conversation(ModeTool),
	})
	require.NoError(t, err)

	_, err = runner.Invoke(ctx, model.QueryInput{UserID: "u1", Query: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errx.ErrNoResults)
}
