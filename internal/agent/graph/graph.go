package graph

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/toleds/rag-bot/internal/agent/graph/conversations"
	"github.com/toleds/rag-bot/internal/agent/graph/nodes"
	"github.com/toleds/rag-bot/internal/agent/graph/observers"
	"github.com/toleds/rag-bot/internal/agent/graph/parsers"
	"github.com/toleds/rag-bot/internal/agent/graph/tools"
	"github.com/toleds/rag-bot/internal/agent/model"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

// Mode selects the orchestrator variant.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeTool       Mode = "tool"
)

// ParseMode validates the ORCHESTRATOR_MODE setting. Empty means sequential.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSequential:
		return ModeSequential, nil
	case ModeTool:
		return ModeTool, nil
	default:
		return "", fmt.Errorf("unknown orchestrator mode %q", s)
	}
}

// Runner is a thin wrapper to execute the compiled graph with the public QueryInput.
type Runner interface {
	Invoke(ctx context.Context, in model.QueryInput) (string, error)
}

// Config holds everything needed to compose the conversation graph.
type Config struct {
	Retriever    tools.Retriever
	Generator    nodes.Generator
	ChatModel    einomodel.ToolCallingChatModel // tool variant only
	Memory       model.SessionMemory
	Conversation model.ConversationConfig
}

// GraphBuilder handles the construction of the conversation graph
type GraphBuilder[O any] struct {
	config *Config
	mm     *conversations.MessagesManager
	graph  *compose.Graph[model.QueryInput, O]
}

type graphRunner[O any] struct {
	runnable compose.Runnable[model.QueryInput, O]
	content  func(O) string
}

func (r *graphRunner[O]) Invoke(ctx context.Context, in model.QueryInput) (string, error) {
	out, err := r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		return "", err
	}
	return r.content(out), nil
}

// BuildRunner validates cfg, builds the variant named by cfg.Conversation.Mode
// and returns a Runner.
func BuildRunner(ctx context.Context, cfg Config) (Runner, error) {
	mode, err := ParseMode(cfg.Conversation.Mode)
	if err != nil {
		return nil, err
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("retriever is nil")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is nil")
	}
	if cfg.Memory == nil {
		return nil, fmt.Errorf("session memory is nil")
	}
	mm := conversations.NewMessagesManager(cfg.Memory, cfg.Conversation)

	switch mode {
	case ModeTool:
		if cfg.ChatModel == nil {
			return nil, fmt.Errorf("chat model is nil")
		}
		runnable, err := buildToolGraph(ctx, &cfg, mm)
		if err != nil {
			return nil, err
		}
		logx.Debug().Str("mode", string(mode)).Msg("Conversation graph built successfully")
		return &graphRunner[*schema.Message]{
			runnable: runnable,
			content: func(m *schema.Message) string {
				if m == nil {
					return ""
				}
				return m.Content
			},
		}, nil
	default:
		runnable, err := buildSequentialGraph(ctx, &cfg, mm)
		if err != nil {
			return nil, err
		}
		logx.Debug().Str("mode", string(mode)).Msg("Conversation graph built successfully")
		return &graphRunner[string]{
			runnable: runnable,
			content:  func(s string) string { return s },
		}, nil
	}
}

func newBuilder[O any](cfg *Config, mm *conversations.MessagesManager) *GraphBuilder[O] {
	return &GraphBuilder[O]{
		config: cfg,
		mm:     mm,
		graph: compose.NewGraph[model.QueryInput, O](
			compose.WithGenLocalState(func(ctx context.Context) *model.GraphState {
				return &model.GraphState{}
			}),
		),
	}
}

// =========== Sequential orchestrator ===========

func buildSequentialGraph(ctx context.Context, cfg *Config, mm *conversations.MessagesManager) (compose.Runnable[model.QueryInput, string], error) {
	b := newBuilder[string](cfg, mm)
	b.addSequentialNodes()
	b.addEdges([][2]string{
		{compose.START, nodes.NodeRetrieveMemory},
		{nodes.NodeRetrieveMemory, nodes.NodeRetrieveDocuments},
		{nodes.NodeRetrieveDocuments, nodes.NodeGenerateResponse},
		{nodes.NodeGenerateResponse, nodes.NodeAddMemory},
		{nodes.NodeAddMemory, compose.END},
	})
	return b.compile(ctx, 0)
}

func (b *GraphBuilder[O]) addSequentialNodes() {
	costEnabled := b.config.Conversation.CostEnabled

	b.graph.AddLambdaNode(nodes.NodeRetrieveMemory,
		nodes.NewRetrieveMemoryNode(b.mm),
		compose.WithStatePreHandler(nodes.NewTurnPreHandler()),
	)

	b.graph.AddLambdaNode(nodes.NodeRetrieveDocuments,
		nodes.NewRetrieveDocumentsNode(b.config.Retriever),
		compose.WithStatePostHandler(nodes.NewRetrieveDocumentsPostHandler()),
	)

	b.graph.AddLambdaNode(nodes.NodeGenerateResponse,
		nodes.NewGenerateResponseNode(b.config.Generator, costEnabled),
	)

	b.graph.AddLambdaNode(nodes.NodeAddMemory,
		nodes.NewAddMemoryNode(b.mm),
	)
}

// =========== Tool-calling orchestrator ===========

func buildToolGraph(ctx context.Context, cfg *Config, mm *conversations.MessagesManager) (compose.Runnable[model.QueryInput, *schema.Message], error) {
	b := newBuilder[*schema.Message](cfg, mm)
	if err := b.setupTools(ctx); err != nil {
		return nil, err
	}
	b.addEdges([][2]string{
		{compose.START, nodes.NodePrepareMessages},
		{nodes.NodePrepareMessages, nodes.NodeQueryOrRespond},
		{nodes.NodeToolCall, nodes.NodeGenerateFinal},
		{nodes.NodeGenerateFinal, compose.END},
	})
	if err := b.addBranches(); err != nil {
		return nil, err
	}
	return b.compile(ctx, cfg.Conversation.Tools.MaxCalls)
}

// setupTools binds the retrieve tool to the chat model and adds the tool-variant nodes.
func (b *GraphBuilder[O]) setupTools(ctx context.Context) error {
	maxCalls := b.config.Conversation.Tools.MaxCalls
	costEnabled := b.config.Conversation.CostEnabled
	modelName := b.config.Generator.ModelName()

	queryTools := tools.GetQueryTools(b.config.Retriever)
	toolInfos, err := tools.GetToolInfos(ctx, queryTools)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to get tool infos")
		return fmt.Errorf("failed to get tool infos: %w", err)
	}

	toolModel, err := b.config.ChatModel.WithTools(toolInfos)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to bind tools to chat model")
		return fmt.Errorf("failed to bind tools to chat model: %w", err)
	}

	toolsNode, err := newToolsNode(ctx, queryTools)
	if err != nil {
		return err
	}

	b.graph.AddLambdaNode(nodes.NodePrepareMessages,
		nodes.NewPrepareMessagesNode(b.mm, maxCalls),
		compose.WithStatePreHandler(nodes.NewTurnPreHandler()),
	)

	b.graph.AddChatModelNode(nodes.NodeQueryOrRespond,
		toolModel,
		compose.WithStatePreHandler(nodes.NewQueryOrRespondPreHandler()),
		compose.WithStatePostHandler(nodes.NewQueryOrRespondPostHandler(b.mm, modelName, costEnabled)),
	)

	b.graph.AddToolsNode(nodes.NodeToolCall, toolsNode,
		compose.WithStatePreHandler(nodes.NewToolCallPreHandler(maxCalls)),
	)

	b.graph.AddLambdaNode(nodes.NodeGenerateFinal,
		nodes.NewGenerateFinalNode(b.config.Generator),
		compose.WithStatePostHandler(nodes.NewGenerateFinalPostHandler(b.mm, modelName, costEnabled)),
	)
	return nil
}

func newToolsNode(ctx context.Context, queryTools []tool.BaseTool) (*compose.ToolsNode, error) {
	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:               queryTools,
		ExecuteSequentially: true,
		UnknownToolsHandler: func(ctx context.Context, name, input string) (string, error) {
			// hallucinated or malformed tool calls get a result the model can read
			logx.Warn().
				Str("tool_name", name).
				Str("arguments", input).
				Msg("Unknown or invalid tool call; returning fallback result")
			return fmt.Sprintf("{\"error\":\"unknown_tool\",\"name\":%q,\"note\":\"ignored\"}", name), nil
		},
		ToolArgumentsHandler: func(ctx context.Context, name, arguments string) (string, error) {
			if name == tools.ToolRetrieve {
				return parsers.SanitizeRetrieveArguments(arguments), nil
			}
			return arguments, nil
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return nil, fmt.Errorf("failed to create tools node: %w", err)
	}
	return toolsNode, nil
}

// addBranches routes the model reply to the tools node or END.
func (b *GraphBuilder[O]) addBranches() error {
	decisionBranch := compose.NewGraphBranch(
		nodes.NewToolCallCondition(),
		map[string]bool{
			nodes.NodeToolCall: true,
			compose.END:        true,
		},
	)
	if err := b.graph.AddBranch(nodes.NodeQueryOrRespond, decisionBranch); err != nil {
		logx.Error().Err(err).Msg("Error adding decision branch")
		return fmt.Errorf("error adding decision branch: %w", err)
	}
	return nil
}

// addEdges creates the main flow connections between nodes
func (b *GraphBuilder[O]) addEdges(edges [][2]string) {
	for _, edge := range edges {
		b.graph.AddEdge(edge[0], edge[1])
	}
}

// compile finalizes and compiles the graph
func (b *GraphBuilder[O]) compile(ctx context.Context, toolMaxCalls int) (compose.Runnable[model.QueryInput, O], error) {
	// bound total run steps so a misbehaving branch cannot loop
	maxSteps := max(20, 10+toolMaxCalls*2)

	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxSteps))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
