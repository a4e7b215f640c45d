package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"nestor/internal/agent/ports"
	nerrors "nestor/internal/errors"
)

// connectorsWorker is the logical name the pool registers the desktop
// connectors under.
const connectorsWorker = "connectors"

type appResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func openAppTool(deps Deps) ports.ToolDescriptor {
	return appTool(deps, "open_app", "Open a desktop application by name.", "/apps/open", "Ouverture de %s")
}

func closeAppTool(deps Deps) ports.ToolDescriptor {
	return appTool(deps, "close_app", "Close a running desktop application by name.", "/apps/close", "Fermeture de %s")
}

func appTool(deps Deps, name, description, endpoint, confirmation string) ports.ToolDescriptor {
	return ports.ToolDescriptor{
		Name:        name,
		Description: description,
		Category:    "applications",
		Mutating:    true,
		Schema: ports.ParameterSchema{
			Properties: map[string]ports.Property{
				"app_name": {Type: "string", Description: "Application name, e.g. Safari"},
			},
			Required: []string{"app_name"},
		},
		Handler: func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
			appName := stringArg(call.Arguments, "app_name")
			body, err := deps.Pool.Call(ctx, connectorsWorker, endpoint, http.MethodPost,
				map[string]string{"app_name": appName}, 10*time.Second)
			if err != nil {
				return nil, err
			}

			var resp appResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, nerrors.Wrapf(nerrors.KindHandlerError, err, "decode connectors response")
			}
			if !resp.Success {
				return nil, nerrors.Newf(nerrors.KindHandlerError, "connectors refused: %s", resp.Message)
			}

			message := resp.Message
			if message == "" {
				message = fmt.Sprintf(confirmation, appName)
			}
			return &ports.ToolResult{Content: message, Data: map[string]any{"app_name": appName}}, nil
		},
	}
}
