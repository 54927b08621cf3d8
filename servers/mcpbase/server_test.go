package mcpbase

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravikant1918/mcpbase-server"
	"github.com/ravikant1918/mcpbase-server/kvstore"
)

func newRegistry(t *testing.T) (*mcp.Registry, *kvstore.Store) {
	t.Helper()
	store := kvstore.New()
	reg := mcp.NewRegistry()
	require.NoError(t, Register(reg, store))
	return reg, store
}

func TestRegister(t *testing.T) {
	reg, _ := newRegistry(t)

	var names []string
	for _, tool := range reg.Tools() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{EchoToolName, ReverseToolName, CalculatorToolName}, names)

	_, ok := reg.LookupPrompt(CodeReviewPromptName)
	assert.True(t, ok)

	ns, ok := reg.LookupNamespace(KVScheme)
	require.True(t, ok)
	assert.Equal(t, KVScheme, ns.Scheme())

	// Registering twice must fail on the first duplicate.
	err := Register(reg, kvstore.New())
	require.ErrorIs(t, err, mcp.ErrDuplicateName)
}

func TestEcho(t *testing.T) {
	tool := echoTool(&monotonicClock{})

	res, err := tool.Handler(context.Background(), mcp.Arguments{"message": "héllo"})
	require.NoError(t, err)
	assert.Equal(t, "Echo: héllo", res.Value)
	assert.Equal(t, "héllo", res.Metadata["original_message"])
	assert.Equal(t, 5, res.Metadata["message_length"])

	ts, ok := res.Metadata["timestamp"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339Nano, ts)
	assert.NoError(t, err)
}

func TestEcho_DistinctTimestamps(t *testing.T) {
	tool := echoTool(&monotonicClock{})

	seen := make(map[string]struct{})
	for range 100 {
		res, err := tool.Handler(context.Background(), mcp.Arguments{"message": "x"})
		require.NoError(t, err)
		ts := res.Metadata["timestamp"].(string)
		_, dup := seen[ts]
		require.False(t, dup, "duplicate timestamp %s", ts)
		seen[ts] = struct{}{}
	}
}

func TestMonotonicClock_Concurrent(t *testing.T) {
	clock := &monotonicClock{}

	var mu sync.Mutex
	seen := make(map[int64]struct{})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				ns := clock.now().UnixNano()
				mu.Lock()
				_, dup := seen[ns]
				seen[ns] = struct{}{}
				mu.Unlock()
				assert.False(t, dup)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
}

func TestReverse(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello", "olleH"},
		{"", ""},
		{"añb", "bña"},
		{"日本語", "語本日"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			res, err := reverseTool().Handler(context.Background(), mcp.Arguments{"text": tt.in})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Value)
			assert.Equal(t, res.Metadata["original_length"], res.Metadata["reversed_length"])
		})
	}
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		a, b    float64
		want    float64
		wantErr string
	}{
		{name: "add", op: "add", a: 15, b: 25, want: 40},
		{name: "subtract", op: "subtract", a: 10, b: 4, want: 6},
		{name: "multiply", op: "multiply", a: 2.5, b: 4, want: 10},
		{name: "divide", op: "divide", a: 10, b: 4, want: 2.5},
		{name: "divide by zero", op: "divide", a: 10, b: 0, wantErr: "division by zero is not allowed"},
		{
			name:    "unknown operation",
			op:      "modulo",
			a:       1,
			b:       2,
			wantErr: "unknown operation 'modulo', valid operations: add, subtract, multiply, divide",
		},
		{name: "overflow", op: "multiply", a: math.MaxFloat64, b: 2, wantErr: "not a finite number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calculate(tt.op, tt.a, tt.b)
			if tt.wantErr != "" {
				var domainErr *mcp.DomainError
				require.True(t, errors.As(err, &domainErr))
				assert.Contains(t, domainErr.Message, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCalculator_Metadata(t *testing.T) {
	res, err := calculatorTool().Handler(context.Background(), mcp.Arguments{
		"operation": "add",
		"a":         15.0,
		"b":         25.0,
	})
	require.NoError(t, err)
	assert.InDelta(t, 40.0, res.Value, 1e-9)
	assert.Equal(t, "15 add 25 = 40", res.Metadata["operation"])
	assert.Equal(t, "add", res.Metadata["operation_type"])
}

func TestCodeReview_Defaults(t *testing.T) {
	reg, _ := newRegistry(t)
	prompt, ok := reg.LookupPrompt(CodeReviewPromptName)
	require.True(t, ok)

	args := mcp.Arguments{}
	for _, p := range prompt.Params {
		args[p.Name] = p.Default
	}
	text, err := prompt.Render(context.Background(), args)
	require.NoError(t, err)

	assert.Contains(t, text, "## Code to Review (Python)")
	assert.Contains(t, text, "```python\n# Your code here\n```")
	assert.Contains(t, text, "**Primary Focus:** General")
	assert.Contains(t, text, "PEP 8 compliance")
	assert.Contains(t, text, "- General code quality")
	assert.Contains(t, text, "**Code Length:** 16 characters")
	assert.NotContains(t, text, "## Changes Since Previous Version")
}

func TestCodeReview_Previous(t *testing.T) {
	text, err := renderCodeReview(context.Background(), mcp.Arguments{
		"code":     "a := 1\nc := 3\n",
		"language": "go",
		"focus":    "general",
		"previous": "a := 1\r\nb := 2\r\n",
	})
	require.NoError(t, err)

	assert.Contains(t, text, "## Changes Since Previous Version\n```diff\n a := 1\n")
	assert.Contains(t, text, "-b := 2\n")
	assert.Contains(t, text, "+c := 3\n")
}

func TestLineDiff(t *testing.T) {
	tests := []struct {
		name     string
		previous string
		current  string
		want     string
	}{
		{name: "unchanged", previous: "x\n", current: "x\n", want: " x\n"},
		{name: "appended", previous: "x\n", current: "x\ny", want: " x\n+y\n"},
		{name: "removed", previous: "x\ny\n", current: "y\n", want: "-x\n y\n"},
		{name: "from empty", previous: "", current: "x\n", want: "+x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lineDiff(tt.previous, tt.current))
		})
	}
}

func TestCodeReview_FocusAndLanguage(t *testing.T) {
	text, err := renderCodeReview(context.Background(), mcp.Arguments{
		"code":     "fn main() {}",
		"language": "Rust",
		"focus":    "best-practices",
	})
	require.NoError(t, err)

	assert.Contains(t, strings.ToLower(text), "### best-practices focus")
	assert.Contains(t, text, "- Rust idioms and conventions")
	assert.Contains(t, text, "Ownership and borrowing rules compliance")
	assert.True(t, strings.HasPrefix(text, "# Code Review Request"))
}

func TestCodeReview_UnknownLanguage(t *testing.T) {
	text, err := renderCodeReview(context.Background(), mcp.Arguments{
		"code":     "SELECT 1",
		"language": "sql",
		"focus":    "security",
	})
	require.NoError(t, err)

	assert.Contains(t, text, "- Language-specific best practices")
	assert.Contains(t, text, "SQL injection and XSS prevention")
	assert.Contains(t, text, "## Code to Review (Sql)")
}

func TestKVNamespace(t *testing.T) {
	ctx := context.Background()
	ns := NewKVNamespace(kvstore.New())

	_, existed, err := ns.Write(ctx, "k", map[string]any{"a": 1.0})
	require.NoError(t, err)
	assert.False(t, existed)

	prev, existed, err := ns.Write(ctx, "k", "second")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.JSONEq(t, `{"a":1}`, string(prev.Value))

	entry, ok, err := ns.Read(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `"second"`, string(entry.Value))

	entries, err := ns.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k", entries[0].Key)

	deleted, err := ns.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = ns.Read(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKVNamespace_WriteUnserializable(t *testing.T) {
	ns := NewKVNamespace(kvstore.New())

	_, _, err := ns.Write(context.Background(), "k", math.Inf(1))
	require.ErrorIs(t, err, mcp.ErrInvalidParams)
	require.ErrorIs(t, err, kvstore.ErrSerialization)
}
