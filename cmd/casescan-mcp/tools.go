package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// apiError mirrors the casescan error detail.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type artifact struct {
	Category  string `json:"category"`
	Path      string `json:"path"`
	SourceURL string `json:"source_url"`
	LinkIndex int    `json:"link_index"`
}

// scanResponse mirrors the casescan scan response.
type scanResponse struct {
	Success      bool       `json:"success"`
	CaseID       string     `json:"case_id"`
	Complete     bool       `json:"complete"`
	Artifacts    []artifact `json:"artifacts"`
	Missing      []string   `json:"missing"`
	LinksTotal   int        `json:"links_total"`
	LinksFetched int        `json:"links_fetched"`
	Error        *apiError  `json:"error"`
}

type batchResponse struct {
	ID     string    `json:"id"`
	Status string    `json:"status"`
	Total  int       `json:"total"`
	Error  *apiError `json:"error"`
}

type batchStatusResponse struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Completed int             `json:"completed"`
	Total     int             `json:"total"`
	Results   []*scanResponse `json:"results"`
}

type caseArtifactsResponse struct {
	CaseID    string     `json:"case_id"`
	Artifacts []artifact `json:"artifacts"`
	Error     *apiError  `json:"error"`
}

func (c *client) handleScanCase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caseID, err := request.RequireString("case_id")
	if err != nil {
		return mcp.NewToolResultError("case_id is required"), nil
	}

	payload := map[string]any{"case_id": caseID}
	if links := request.GetStringSlice("links", nil); len(links) > 0 {
		payload["links"] = links
	}
	if mode := request.GetString("fetch_mode", ""); mode != "" {
		payload["fetch_mode"] = mode
	}

	var resp scanResponse
	if _, err := c.http.R().SetContext(ctx).SetBody(payload).SetResult(&resp).SetError(&resp).Post("/api/v1/scan"); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
	}
	if !resp.Success {
		return mcp.NewToolResultError(formatFailure(&resp)), nil
	}
	return mcp.NewToolResultText(formatScan(&resp)), nil
}

func (c *client) handleBatchScan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caseIDs, err := request.RequireStringSlice("case_ids")
	if err != nil {
		return mcp.NewToolResultError("case_ids is required and must be an array of strings"), nil
	}

	var created batchResponse
	_, err = c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"case_ids": caseIDs}).
		SetResult(&created).
		SetError(&created).
		Post("/api/v1/batch/scan")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("batch request failed: %v", err)), nil
	}
	if created.ID == "" {
		msg := "batch job creation failed"
		if created.Error != nil {
			msg = fmt.Sprintf("[%s] %s", created.Error.Code, created.Error.Message)
		}
		return mcp.NewToolResultError(msg), nil
	}

	status, err := c.pollBatch(ctx, created.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("polling batch job failed: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Batch %s: %s (%d/%d)\n", status.ID, status.Status, status.Completed, status.Total)
	for _, r := range status.Results {
		if r == nil {
			continue
		}
		b.WriteString("\n")
		if r.Success {
			b.WriteString(formatScan(r))
		} else {
			b.WriteString(formatFailure(r))
			b.WriteString("\n")
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

// pollBatch polls the batch until it is no longer processing or ctx ends.
func (c *client) pollBatch(ctx context.Context, id string) (*batchStatusResponse, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			var status batchStatusResponse
			res, err := c.http.R().SetContext(ctx).SetResult(&status).Get("/api/v1/batch/" + id)
			if err != nil {
				return nil, err
			}
			if res.IsError() {
				return nil, fmt.Errorf("status %d", res.StatusCode())
			}
			if status.Status != "processing" {
				return &status, nil
			}
		}
	}
}

func (c *client) handleCaseArtifacts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	caseID, err := request.RequireString("case_id")
	if err != nil {
		return mcp.NewToolResultError("case_id is required"), nil
	}

	var resp caseArtifactsResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", caseID).
		SetResult(&resp).
		SetError(&resp).
		Get("/api/v1/cases/{id}")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
	}
	if res.IsError() {
		msg := fmt.Sprintf("no artifacts for case %s (status %d)", caseID, res.StatusCode())
		if resp.Error != nil {
			msg = fmt.Sprintf("[%s] %s", resp.Error.Code, resp.Error.Message)
		}
		return mcp.NewToolResultError(msg), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Case %s\n", caseID)
	for _, a := range resp.Artifacts {
		fmt.Fprintf(&b, "- %s: %s (link %d, %s)\n", a.Category, a.Path, a.LinkIndex, a.SourceURL)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func formatScan(r *scanResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Case %s: %d of %d links opened\n", r.CaseID, r.LinksFetched, r.LinksTotal)
	for _, a := range r.Artifacts {
		fmt.Fprintf(&b, "- %s: %s (link %d, %s)\n", a.Category, a.Path, a.LinkIndex, a.SourceURL)
	}
	if len(r.Missing) > 0 {
		fmt.Fprintf(&b, "Not found: %s\n", strings.Join(r.Missing, ", "))
	}
	return b.String()
}

func formatFailure(r *scanResponse) string {
	msg := fmt.Sprintf("case %s: scan failed", r.CaseID)
	if r.Error != nil {
		msg = fmt.Sprintf("case %s: [%s] %s", r.CaseID, r.Error.Code, r.Error.Message)
	}
	if len(r.Artifacts) > 0 {
		msg += fmt.Sprintf(" (%d document(s) saved before the failure)", len(r.Artifacts))
	}
	return msg
}
