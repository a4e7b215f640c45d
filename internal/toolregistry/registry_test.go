package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestor/internal/agent/ports"
	nerrors "nestor/internal/errors"
)

func echoTool(name string) ports.ToolDescriptor {
	return ports.ToolDescriptor{
		Name:        name,
		Description: "echoes its message back",
		Category:    "testing",
		Schema: ports.ParameterSchema{
			Properties: map[string]ports.Property{
				"message": {Type: "string"},
				"repeat":  {Type: "integer"},
				"loud":    {Type: "boolean"},
			},
			Required: []string{"message"},
		},
		Handler: func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
			return &ports.ToolResult{Content: call.Arguments["message"].(string)}, nil
		},
	}
}

func TestRegisterAndDescribe(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(echoTool("zeta")))
	require.NoError(t, r.Register(echoTool("alpha")))

	infos := r.Describe()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name, "listing is sorted by name")
	assert.Equal(t, "zeta", infos[1].Name)
}

func TestRegisterDuplicate(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(echoTool("echo")))
	err := r.Register(echoTool("echo"))
	assert.True(t, nerrors.IsKind(err, nerrors.KindDuplicateTool))
}

func TestUnregisterMissingSignalsUnknownTool(t *testing.T) {
	r := New(nil)
	err := r.Unregister("ghost")
	assert.True(t, nerrors.IsKind(err, nerrors.KindUnknownTool))

	require.NoError(t, r.Register(echoTool("echo")))
	require.NoError(t, r.Unregister("echo"))
	assert.Empty(t, r.Describe())
}

func TestUnregisterRestoresCatalogExactly(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(echoTool("alpha")))
	require.NoError(t, r.Register(echoTool("zeta")))

	before, err := json.Marshal(r.Describe())
	require.NoError(t, err)

	require.NoError(t, r.Register(echoTool("mike")))
	require.NoError(t, r.Unregister("mike"))

	after, err := json.Marshal(r.Describe())
	require.NoError(t, err)
	assert.Equal(t, before, after, "register then unregister must leave the catalog byte-identical")
}

func TestInvokeUnknownTool(t *testing.T) {
	r := New(nil)
	_, err := r.Invoke(context.Background(), ports.ToolCall{Name: "ghost"})
	assert.True(t, nerrors.IsKind(err, nerrors.KindUnknownTool))
}

func TestInvokeValidatesAndCoerces(t *testing.T) {
	r := New(nil)
	var seen map[string]any
	desc := echoTool("echo")
	desc.Handler = func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
		seen = call.Arguments
		return &ports.ToolResult{Content: "ok"}, nil
	}
	require.NoError(t, r.Register(desc))

	_, err := r.Invoke(context.Background(), ports.ToolCall{
		Name:      "echo",
		Arguments: map[string]any{"message": "hi", "repeat": "3", "loud": "TRUE"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"message": "hi", "repeat": 3, "loud": true}, seen)
}

func TestInvokeRejectsUnknownKeys(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(echoTool("echo")))
	_, err := r.Invoke(context.Background(), ports.ToolCall{
		Name:      "echo",
		Arguments: map[string]any{"message": "hi", "volume": 11},
	})
	assert.True(t, nerrors.IsKind(err, nerrors.KindValidation))
}

func TestInvokeEnforcesRequiredKeys(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(echoTool("echo")))
	_, err := r.Invoke(context.Background(), ports.ToolCall{Name: "echo", Arguments: map[string]any{}})
	assert.True(t, nerrors.IsKind(err, nerrors.KindValidation))
}

func TestInvokeClassifiesHandlerFailure(t *testing.T) {
	r := New(nil)
	desc := echoTool("flaky")
	desc.Handler = func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
		return nil, fmt.Errorf("disk on fire")
	}
	require.NoError(t, r.Register(desc))

	_, err := r.Invoke(context.Background(), ports.ToolCall{Name: "flaky", Arguments: map[string]any{"message": "m"}})
	assert.True(t, nerrors.IsKind(err, nerrors.KindHandlerError))
}

func TestInvokeKeepsClassifiedErrors(t *testing.T) {
	r := New(nil)
	desc := echoTool("gone")
	desc.Handler = func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
		return nil, nerrors.New(nerrors.KindRemoteUnavailable, "worker down")
	}
	require.NoError(t, r.Register(desc))

	_, err := r.Invoke(context.Background(), ports.ToolCall{Name: "gone", Arguments: map[string]any{"message": "m"}})
	assert.True(t, nerrors.IsKind(err, nerrors.KindRemoteUnavailable))
}

func TestInvokeMapsContextExpiry(t *testing.T) {
	r := New(nil)
	desc := echoTool("slow")
	desc.Handler = func(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	require.NoError(t, r.Register(desc))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Invoke(ctx, ports.ToolCall{Name: "slow", Arguments: map[string]any{"message": "m"}})
	assert.True(t, nerrors.IsKind(err, nerrors.KindTimeout))
}

func TestValidateArgumentsTypeErrors(t *testing.T) {
	schema := ports.ParameterSchema{Properties: map[string]ports.Property{
		"count": {Type: "integer"},
		"name":  {Type: "string"},
	}}

	_, err := ValidateArguments(schema, map[string]any{"count": "many"})
	assert.True(t, nerrors.IsKind(err, nerrors.KindValidation))

	_, err = ValidateArguments(schema, map[string]any{"name": 42})
	assert.True(t, nerrors.IsKind(err, nerrors.KindValidation))

	// JSON numbers arrive as float64; whole values pass, fractions do not.
	out, err := ValidateArguments(schema, map[string]any{"count": float64(7)})
	require.NoError(t, err)
	assert.Equal(t, 7, out["count"])
	_, err = ValidateArguments(schema, map[string]any{"count": 7.5})
	assert.True(t, nerrors.IsKind(err, nerrors.KindValidation))
}
