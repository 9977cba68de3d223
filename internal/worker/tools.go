package worker

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	// Tool names
	toolNavigate   = "browser_navigate"
	toolGoBack     = "browser_go_back"
	toolClick      = "browser_click"
	toolFill       = "browser_fill"
	toolPressKey   = "browser_press_key"
	toolGetText    = "browser_get_text"
	toolEvaluate   = "browser_evaluate"
	toolScreenshot = "browser_screenshot"
	toolWaitFor    = "browser_wait_for"
)

// MCPServer wraps the mcp-go server with the browser tool handlers.
type MCPServer struct {
	server *server.MCPServer
	engine *Engine
}

// MCPConfig holds the MCP server identity.
type MCPConfig struct {
	Name    string
	Version string
}

// NewMCPServer creates and configures the worker's MCP server. The hooks are
// supplied by the HTTP server so it can track open SSE sessions.
func NewMCPServer(cfg MCPConfig, engine *Engine, hooks *server.Hooks) *MCPServer {
	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
	)

	ms := &MCPServer{
		server: mcpServer,
		engine: engine,
	}

	ms.registerTools()

	return ms
}

// Server returns the underlying mcp-go server for transport wiring.
func (ms *MCPServer) Server() *server.MCPServer {
	return ms.server
}

// registerTools registers all browser tools with handlers
func (ms *MCPServer) registerTools() {
	navigateTool := mcp.NewTool(toolNavigate,
		mcp.WithDescription("Navigate the browser to a URL and wait for the page to load"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("URL to navigate to, including protocol"),
		),
		mcp.WithString("wait_until",
			mcp.Description("When navigation counts as complete: 'load' (default), 'domcontentloaded', or 'networkidle'"),
		),
	)
	ms.server.AddTool(navigateTool, ms.handleNavigate)

	goBackTool := mcp.NewTool(toolGoBack,
		mcp.WithDescription("Navigate back to the previous page in browser history"),
	)
	ms.server.AddTool(goBackTool, ms.handleGoBack)

	clickTool := mcp.NewTool(toolClick,
		mcp.WithDescription("Click the first element matching a CSS selector"),
		mcp.WithString("selector",
			mcp.Required(),
			mcp.Description("CSS selector of the element to click"),
		),
	)
	ms.server.AddTool(clickTool, ms.handleClick)

	fillTool := mcp.NewTool(toolFill,
		mcp.WithDescription("Fill an input element with a value"),
		mcp.WithString("selector",
			mcp.Required(),
			mcp.Description("CSS selector of the input element"),
		),
		mcp.WithString("value",
			mcp.Required(),
			mcp.Description("Value to fill in"),
		),
	)
	ms.server.AddTool(fillTool, ms.handleFill)

	pressKeyTool := mcp.NewTool(toolPressKey,
		mcp.WithDescription("Press a keyboard key, optionally focused on an element"),
		mcp.WithString("key",
			mcp.Required(),
			mcp.Description("Key to press, e.g. 'Enter' or 'ArrowDown'"),
		),
		mcp.WithString("selector",
			mcp.Description("CSS selector of the element to press the key on"),
		),
	)
	ms.server.AddTool(pressKeyTool, ms.handlePressKey)

	getTextTool := mcp.NewTool(toolGetText,
		mcp.WithDescription("Get the text content of an element, or of the whole page when no selector is given"),
		mcp.WithString("selector",
			mcp.Description("CSS selector of the element to read"),
		),
	)
	ms.server.AddTool(getTextTool, ms.handleGetText)

	evaluateTool := mcp.NewTool(toolEvaluate,
		mcp.WithDescription("Evaluate a JavaScript expression on the page and return its result"),
		mcp.WithString("expression",
			mcp.Required(),
			mcp.Description("JavaScript expression to evaluate"),
		),
	)
	ms.server.AddTool(evaluateTool, ms.handleEvaluate)

	screenshotTool := mcp.NewTool(toolScreenshot,
		mcp.WithDescription("Take a PNG screenshot of the current page"),
		mcp.WithBoolean("full_page",
			mcp.Description("Capture the full scrollable page instead of the viewport"),
		),
	)
	ms.server.AddTool(screenshotTool, ms.handleScreenshot)

	waitForTool := mcp.NewTool(toolWaitFor,
		mcp.WithDescription("Wait for an element to reach a state"),
		mcp.WithString("selector",
			mcp.Required(),
			mcp.Description("CSS selector of the element to wait for"),
		),
		mcp.WithString("state",
			mcp.Description("State to wait for: 'visible' (default), 'attached', 'detached', or 'hidden'"),
		),
		mcp.WithNumber("timeout_ms",
			mcp.Description("Maximum time to wait in milliseconds"),
		),
	)
	ms.server.AddTool(waitForTool, ms.handleWaitFor)
}

// handleNavigate implements the browser_navigate tool
func (ms *MCPServer) handleNavigate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	waitUntil := request.GetString("wait_until", "load")
	switch waitUntil {
	case "load", "domcontentloaded", "networkidle":
	default:
		return mcp.NewToolResultError(fmt.Sprintf("invalid wait_until value: %s", waitUntil)), nil
	}

	title, err := ms.engine.Navigate(url, waitUntil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Navigated to %s (title: %s)", url, title)), nil
}

// handleGoBack implements the browser_go_back tool
func (ms *MCPServer) handleGoBack(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := ms.engine.GoBack()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Went back to %s", url)), nil
}

// handleClick implements the browser_click tool
func (ms *MCPServer) handleClick(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	selector, err := request.RequireString("selector")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := ms.engine.Click(selector); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Clicked %s", selector)), nil
}

// handleFill implements the browser_fill tool
func (ms *MCPServer) handleFill(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	selector, err := request.RequireString("selector")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	value, err := request.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := ms.engine.Fill(selector, value); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Filled %s", selector)), nil
}

// handlePressKey implements the browser_press_key tool
func (ms *MCPServer) handlePressKey(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	selector := request.GetString("selector", "")

	if err := ms.engine.PressKey(key, selector); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Pressed %s", key)), nil
}

// handleGetText implements the browser_get_text tool
func (ms *MCPServer) handleGetText(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	selector := request.GetString("selector", "")

	text, err := ms.engine.Text(selector)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

// handleEvaluate implements the browser_evaluate tool
func (ms *MCPServer) handleEvaluate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expression, err := request.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := ms.engine.Evaluate(expression)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%v", result)), nil
}

// handleScreenshot implements the browser_screenshot tool
func (ms *MCPServer) handleScreenshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fullPage := request.GetBool("full_page", false)

	data, err := ms.engine.Screenshot(fullPage)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultImage("screenshot", data, "image/png"), nil
}

// handleWaitFor implements the browser_wait_for tool
func (ms *MCPServer) handleWaitFor(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	selector, err := request.RequireString("selector")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	state := request.GetString("state", "visible")
	switch state {
	case "visible", "attached", "detached", "hidden":
	default:
		return mcp.NewToolResultError(fmt.Sprintf("invalid state value: %s", state)), nil
	}

	timeoutMs := request.GetFloat("timeout_ms", 0)

	if err := ms.engine.WaitFor(selector, state, timeoutMs); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Element %s is %s", selector, state)), nil
}
