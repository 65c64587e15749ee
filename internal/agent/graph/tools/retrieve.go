package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/toleds/rag-bot/internal/agent/model"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

// ToolRetrieve is the name the model calls to search the active collection.
const ToolRetrieve = "retrieve"

// Retriever is the retrieval capability the tool needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]model.ScoredFragment, error)
}

// ===================================
// Retrieve Tool
// ===================================

func createRetrieveTool(r Retriever) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolRetrieve,
			Desc: "Retrieve information related to a query from the document collection. Returns the most relevant text fragments with their source and page. Use this tool whenever the question needs facts from the documents.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     "string",
					Desc:     "Self-contained search query. Rewrite follow-up questions so they make sense without the conversation.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *model.RetrieveInput) (*model.RetrieveOutput, error) {
			query := strings.TrimSpace(in.Query)
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}

			docs, err := r.Retrieve(ctx, query)
			if err != nil {
				return nil, err
			}

			out := &model.RetrieveOutput{Documents: make([]model.RetrievedDocument, 0, len(docs))}
			for _, d := range docs {
				out.Documents = append(out.Documents, model.RetrievedDocument{
					Content:  d.Content,
					Metadata: d.Metadata(),
				})
			}
			logx.Debug().Str("tool", ToolRetrieve).Str("query", query).Int("documents", len(docs)).Msg("Retrieved documents")
			return out, nil
		},
	)
}

// GetQueryTools returns the tools bound to the tool-calling model.
func GetQueryTools(r Retriever) []tool.BaseTool {
	return []tool.BaseTool{
		createRetrieveTool(r),
	}
}

// GetToolInfos collects tool schemas for binding to the chat model.
func GetToolInfos(ctx context.Context, tools []tool.BaseTool) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
