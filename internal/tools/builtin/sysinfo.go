package builtin

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"nestor/internal/agent/ports"
)

var processStart = time.Now()

func systemInfoTool() ports.ToolDescriptor {
	return ports.ToolDescriptor{
		Name:        "system_info",
		Description: "Report host and runtime information.",
		Category:    "system",
		Schema:      ports.ParameterSchema{Properties: map[string]ports.Property{}},
		Handler: func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
			hostname, _ := os.Hostname()
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)

			content := fmt.Sprintf(
				"host: %s\nos: %s/%s\ncpus: %d\ngoroutines: %d\nheap: %d MiB\nuptime: %s",
				hostname, runtime.GOOS, runtime.GOARCH, runtime.NumCPU(),
				runtime.NumGoroutine(), mem.HeapAlloc>>20, time.Since(processStart).Round(time.Second),
			)
			return &ports.ToolResult{
				Content: content,
				Data: map[string]any{
					"hostname": hostname,
					"os":       runtime.GOOS,
					"arch":     runtime.GOARCH,
					"cpus":     runtime.NumCPU(),
				},
			}, nil
		},
	}
}
