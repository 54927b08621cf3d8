package mcpbase

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/ravikant1918/mcpbase-server"
)

// Tool names.
const (
	EchoToolName       = "tools.echo"
	ReverseToolName    = "tools.reverse"
	CalculatorToolName = "tools.calculator"
)

var calculatorOperations = []string{"add", "subtract", "multiply", "divide"}

// monotonicClock hands out strictly increasing timestamps, even when the wall clock
// returns the same instant twice.
type monotonicClock struct {
	last atomic.Int64
}

func (c *monotonicClock) now() time.Time {
	for {
		last := c.last.Load()
		next := time.Now().UnixNano()
		if next <= last {
			next = last + 1
		}
		if c.last.CompareAndSwap(last, next) {
			return time.Unix(0, next).UTC()
		}
	}
}

func echoTool(clock *monotonicClock) mcp.ToolDescriptor {
	return mcp.ToolDescriptor{
		Name:        EchoToolName,
		Description: "Echo back the provided message",
		Params: []mcp.Param{
			{Name: "message", Type: mcp.TypeString, Required: true, Description: "The message to echo back"},
		},
		Handler: func(_ context.Context, args mcp.Arguments) (mcp.ToolResult, error) {
			message := args.String("message")
			return mcp.ToolResult{
				Value: "Echo: " + message,
				Metadata: map[string]any{
					"timestamp":        clock.now().Format(time.RFC3339Nano),
					"original_message": message,
					"message_length":   utf8.RuneCountInString(message),
				},
			}, nil
		},
	}
}

func reverseTool() mcp.ToolDescriptor {
	return mcp.ToolDescriptor{
		Name:        ReverseToolName,
		Description: "Reverse the provided text",
		Params: []mcp.Param{
			{Name: "text", Type: mcp.TypeString, Required: true, Description: "The text to reverse"},
		},
		Handler: func(_ context.Context, args mcp.Arguments) (mcp.ToolResult, error) {
			text := args.String("text")
			reversed := reverse(text)
			return mcp.ToolResult{
				Value: reversed,
				Metadata: map[string]any{
					"original_text":   text,
					"original_length": utf8.RuneCountInString(text),
					"reversed_length": utf8.RuneCountInString(reversed),
					"operation":       "string_reverse",
				},
			}, nil
		},
	}
}

func calculatorTool() mcp.ToolDescriptor {
	return mcp.ToolDescriptor{
		Name:        CalculatorToolName,
		Description: "Perform basic arithmetic operations",
		Params: []mcp.Param{
			{
				Name:        "operation",
				Type:        mcp.TypeString,
				Required:    true,
				Description: "One of " + strings.Join(calculatorOperations, ", "),
			},
			{Name: "a", Type: mcp.TypeNumber, Required: true, Description: "First operand"},
			{Name: "b", Type: mcp.TypeNumber, Required: true, Description: "Second operand"},
		},
		Handler: func(_ context.Context, args mcp.Arguments) (mcp.ToolResult, error) {
			op := args.String("operation")
			a, b := args.Float("a"), args.Float("b")

			result, err := calculate(op, a, b)
			if err != nil {
				return mcp.ToolResult{}, err
			}
			return mcp.ToolResult{
				Value: result,
				Metadata: map[string]any{
					"operation":      fmt.Sprintf("%v %s %v = %v", a, op, b, result),
					"operand_a":      a,
					"operand_b":      b,
					"operation_type": op,
				},
			}, nil
		},
	}
}

func calculate(op string, a, b float64) (float64, error) {
	var result float64
	switch op {
	case "add":
		result = a + b
	case "subtract":
		result = a - b
	case "multiply":
		result = a * b
	case "divide":
		if b == 0 {
			return 0, mcp.NewDomainError("division by zero is not allowed")
		}
		result = a / b
	default:
		return 0, mcp.NewDomainError("unknown operation '%s', valid operations: %s",
			op, strings.Join(calculatorOperations, ", "))
	}

	if math.IsInf(result, 0) || math.IsNaN(result) {
		return 0, mcp.NewDomainError("result of %s is not a finite number", op)
	}
	return result, nil
}

func reverse(s string) string {
	runes := []rune(s)
	slices.Reverse(runes)
	return string(runes)
}
