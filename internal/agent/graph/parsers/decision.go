package parsers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"github.com/toleds/rag-bot/internal/agent/graph/tools"
	"github.com/toleds/rag-bot/internal/agent/model"
	errx "github.com/toleds/rag-bot/internal/core/error"
	logx "github.com/toleds/rag-bot/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxArgumentsLen = 8 * 1024   // tool call arguments JSON
	maxQueryLen     = 2 * 1024   // retrieval query, in runes
	maxToolResult   = 256 * 1024 // tool message content
	maxErrSnippet   = 200        // limit error snippet size
)

// ParseDecision classifies a model reply as a retrieval request or a final answer.
// The first retrieve call wins; a malformed or empty query falls back to the
// user's question when one is provided.
func ParseDecision(msg *schema.Message, fallbackQuery string) (d model.Decision, err error) {
	// panic safety
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "decision_parser").Msgf("panic recovered: %v", r)
			err = errx.New(fmt.Errorf("decision parser panic"), http.StatusInternalServerError, errx.SystemErrorMessage)
			d = model.Decision{}
		}
	}()

	if msg == nil {
		return model.Decision{}, errx.WrapModel(fmt.Errorf("empty model reply"))
	}
	for _, tc := range msg.ToolCalls {
		if tc.Function.Name != tools.ToolRetrieve {
			continue
		}
		query, perr := ParseRetrieveQuery(tc.Function.Arguments)
		if perr != nil || query == "" {
			logx.Warn().Str("component", "decision_parser").Str("arguments", safeSnippet(tc.Function.Arguments)).
				Msg("retrieve call without usable query; using the question")
			query = strings.TrimSpace(fallbackQuery)
		}
		return model.Decision{Kind: model.ToolRequest, Query: query, CallID: tc.ID}, nil
	}
	if len(msg.ToolCalls) > 0 {
		// only unknown tools; ToolsNode answers them with a fallback result
		tc := msg.ToolCalls[0]
		return model.Decision{Kind: model.ToolRequest, Query: strings.TrimSpace(fallbackQuery), CallID: tc.ID}, nil
	}
	return model.Decision{Kind: model.FinalAnswer, Answer: msg.Content}, nil
}

// ParseRetrieveQuery extracts the query field of retrieve tool arguments.
func ParseRetrieveQuery(arguments string) (string, error) {
	m, err := parseArguments(arguments)
	if err != nil {
		return "", err
	}
	return coerceQuery(m["query"]), nil
}

// SanitizeRetrieveArguments normalizes retrieve arguments to {"query": string}.
// It never fails; unparsable input is returned unchanged.
func SanitizeRetrieveArguments(arguments string) string {
	m, err := parseArguments(arguments)
	if err != nil {
		return arguments
	}
	b, err := json.Marshal(model.RetrieveInput{Query: coerceQuery(m["query"])})
	if err != nil {
		return arguments
	}
	return string(b)
}

// FillRetrieveQuery normalizes retrieve arguments and substitutes fallback
// when the model sent no usable query.
func FillRetrieveQuery(arguments, fallback string) string {
	query, err := ParseRetrieveQuery(arguments)
	if err == nil && query != "" {
		return SanitizeRetrieveArguments(arguments)
	}
	fallback = coerceQuery(fallback)
	if fallback == "" {
		return SanitizeRetrieveArguments(arguments)
	}
	b, merr := json.Marshal(model.RetrieveInput{Query: fallback})
	if merr != nil {
		return arguments
	}
	return string(b)
}

// RetrievedText renders a retrieve tool result as plain context text. Content
// that is not a retrieve result is returned as is.
func RetrievedText(content string) string {
	if len(content) > maxToolResult {
		content = content[:maxToolResult]
	}
	var out model.RetrieveOutput
	if err := json.Unmarshal([]byte(content), &out); err != nil || out.Documents == nil {
		return content
	}
	parts := make([]string, 0, len(out.Documents))
	for _, d := range out.Documents {
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, "\n\n")
}

func parseArguments(s string) (map[string]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]any{}, nil
	}
	if len(s) > maxArgumentsLen {
		return nil, fmt.Errorf("arguments too large")
	}
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("arguments invalid utf8")
	}
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return nil, fmt.Errorf("arguments not json object")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func coerceQuery(v any) string {
	var q string
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		q = vv
	default:
		// coerce non-string to string
		q = fmt.Sprint(vv)
	}
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) > maxQueryLen {
		q = string([]rune(q)[:maxQueryLen])
	}
	return q
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
