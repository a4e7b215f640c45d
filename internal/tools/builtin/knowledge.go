package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nestor/internal/agent/ports"
	nerrors "nestor/internal/errors"
)

// Logical worker names for the remote adapters.
const (
	learningWorker = "learning"
	indexerWorker  = "indexer"
)

func learnKnowledgeTool(deps Deps) ports.ToolDescriptor {
	return ports.ToolDescriptor{
		Name:        "learn_knowledge",
		Description: "Store a fact in the assistant's long-term knowledge base.",
		Category:    "knowledge",
		Mutating:    true,
		Schema: ports.ParameterSchema{
			Properties: map[string]ports.Property{
				"fact": {Type: "string", Description: "The fact to remember, one sentence"},
			},
			Required: []string{"fact"},
		},
		Handler: func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
			fact := strings.TrimSpace(stringArg(call.Arguments, "fact"))
			if fact == "" {
				return nil, nerrors.New(nerrors.KindValidation, "fact must not be empty")
			}

			_, err := deps.Pool.Call(ctx, learningWorker, "/learn", http.MethodPost,
				map[string]string{"text": fact, "principal": call.Principal}, 10*time.Second)
			if err != nil {
				return nil, err
			}
			return &ports.ToolResult{
				Content: fmt.Sprintf("J'ai appris: %s", fact),
				Data:    map[string]any{"fact": fact},
			}, nil
		},
	}
}

func recallKnowledgeTool(deps Deps) ports.ToolDescriptor {
	return ports.ToolDescriptor{
		Name:        "recall_knowledge",
		Description: "Search the assistant's long-term knowledge base.",
		Category:    "knowledge",
		Schema: ports.ParameterSchema{
			Properties: map[string]ports.Property{
				"query": {Type: "string", Description: "What to look up"},
			},
			Required: []string{"query"},
		},
		Handler: func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
			body, err := deps.Pool.Call(ctx, learningWorker, "/recall", http.MethodPost,
				map[string]string{"query": stringArg(call.Arguments, "query"), "principal": call.Principal}, 10*time.Second)
			if err != nil {
				return nil, err
			}

			var resp struct {
				Results []string `json:"results"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, nerrors.Wrapf(nerrors.KindHandlerError, err, "decode learning response")
			}
			if len(resp.Results) == 0 {
				return &ports.ToolResult{Content: "Je n'ai rien trouvé à ce sujet."}, nil
			}
			return &ports.ToolResult{
				Content: strings.Join(resp.Results, "\n"),
				Data:    map[string]any{"count": len(resp.Results)},
			}, nil
		},
	}
}

func searchFilesTool(deps Deps) ports.ToolDescriptor {
	return ports.ToolDescriptor{
		Name:        "search_files",
		Description: "Search indexed files by content or name via the filesystem indexer.",
		Category:    "filesystem",
		Schema: ports.ParameterSchema{
			Properties: map[string]ports.Property{
				"query":     {Type: "string", Description: "Search terms; may be empty when filtering by extension"},
				"extension": {Type: "string", Description: "Restrict results to one file extension, e.g. .py"},
				"limit":     {Type: "integer", Description: "Maximum number of results"},
			},
			Required: []string{"query"},
		},
		Handler: func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
			payload := map[string]any{
				"query": stringArg(call.Arguments, "query"),
				"limit": intArg(call.Arguments, "limit", 20),
			}
			if ext := stringArg(call.Arguments, "extension"); ext != "" {
				payload["extension"] = ext
			}
			body, err := deps.Pool.Call(ctx, indexerWorker, "/search", http.MethodPost, payload, 15*time.Second)
			if err != nil {
				return nil, err
			}

			var resp struct {
				Results []struct {
					Path    string `json:"path"`
					Snippet string `json:"snippet"`
				} `json:"results"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, nerrors.Wrapf(nerrors.KindHandlerError, err, "decode indexer response")
			}

			if len(resp.Results) == 0 {
				return &ports.ToolResult{Content: "Aucun fichier trouvé."}, nil
			}
			var b strings.Builder
			for _, r := range resp.Results {
				fmt.Fprintf(&b, "%s\n", r.Path)
				if r.Snippet != "" {
					fmt.Fprintf(&b, "    %s\n", r.Snippet)
				}
			}
			return &ports.ToolResult{
				Content: strings.TrimRight(b.String(), "\n"),
				Data:    map[string]any{"count": len(resp.Results)},
			}, nil
		},
	}
}
