package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	_ = godotenv.Load()

	apiURL := os.Getenv("CASESCAN_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("CASESCAN_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "CASESCAN_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"casescan",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	c := newClient(apiURL, apiKey, 30*time.Minute)

	scanCaseTool := mcp.NewTool("scan_case",
		mcp.WithDescription("Scan a court case's documents and save the first document of each tracked category (e.g. PERDIMENTO, TRANSITO_EM_JULGADO) as a PDF. Returns the saved files and the categories not found."),
		mcp.WithString("case_id",
			mcp.Required(),
			mcp.Description("The case (process) number to scan"),
		),
		mcp.WithArray("links",
			mcp.Description("Candidate document URLs in scan order. When omitted, they are read from the court's case listing."),
			mcp.WithStringItems(),
		),
		mcp.WithString("fetch_mode",
			mcp.Description("How page text is read: 'browser' (default), 'http' (no JavaScript) or 'auto' (race both)"),
			mcp.Enum("browser", "http", "auto"),
		),
	)
	s.AddTool(scanCaseTool, c.handleScanCase)

	batchScanTool := mcp.NewTool("batch_scan",
		mcp.WithDescription("Scan up to 50 cases in the background and wait for all of them to finish."),
		mcp.WithArray("case_ids",
			mcp.Required(),
			mcp.Description("The case numbers to scan"),
			mcp.WithStringItems(),
		),
	)
	s.AddTool(batchScanTool, c.handleBatchScan)

	caseArtifactsTool := mcp.NewTool("case_artifacts",
		mcp.WithDescription("List the PDFs recorded for a case by earlier scans."),
		mcp.WithString("case_id",
			mcp.Required(),
			mcp.Description("The case number"),
		),
	)
	s.AddTool(caseArtifactsTool, c.handleCaseArtifacts)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// client calls the casescan HTTP API.
type client struct {
	http         *resty.Client
	pollInterval time.Duration
}

func newClient(apiURL, apiKey string, timeout time.Duration) *client {
	return &client{
		http: resty.New().
			SetBaseURL(apiURL).
			SetTimeout(timeout).
			SetHeader("X-API-Key", apiKey),
		pollInterval: 2 * time.Second,
	}
}
