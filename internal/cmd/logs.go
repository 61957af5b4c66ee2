package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/copilot-import/copilot-import/internal/config"
	"github.com/copilot-import/copilot-import/internal/logging"
)

// DefaultLogLines is the default number of log lines to show
const DefaultLogLines = 50

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorDim    = "\033[2m"
)

// LogsOutput represents the JSON output structure for logs
type LogsOutput struct {
	Count   int                `json:"count"`
	Entries []logging.LogEntry `json:"entries"`
}

// ShowLogs prints recent log entries of a copilot-import server listening on
// cfg.Server.Addr().
func ShowLogs(ctx context.Context, cfg *config.Config, n int, jsonOutput bool) error {
	if n <= 0 {
		n = DefaultLogLines
	}
	entries, err := fetchLogs(ctx, cfg, n)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(Output)
		enc.SetIndent("", "  ")
		return enc.Encode(LogsOutput{Count: len(entries), Entries: entries})
	}
	return outputLogsTable(entries)
}

func fetchLogs(ctx context.Context, cfg *config.Config, n int) ([]logging.LogEntry, error) {
	url := fmt.Sprintf("http://%s/v1/logs?limit=%d", cfg.Server.Addr(), n)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if cfg.Server.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Server.APIKey)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the server running? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("logs request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out struct {
		Entries []logging.LogEntry `json:"entries"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	return out.Entries, nil
}

func outputLogsTable(entries []logging.LogEntry) error {
	if len(entries) == 0 {
		_, _ = fmt.Fprintf(Output, "%sNo log entries available%s\n", colorYellow, colorReset)
		return nil
	}
	for _, entry := range entries {
		message := strings.TrimRight(entry.Message, "\r\n")
		if len(message) > 100 {
			message = message[:97] + "..."
		}
		_, _ = fmt.Fprintf(Output, "%s%s%s %s %s\n", colorDim, entry.Timestamp.Format("15:04:05"), colorReset, formatLogLevel(entry.Level), message)
	}
	return nil
}

func formatLogLevel(level string) string {
	switch strings.ToLower(level) {
	case "debug":
		return colorDim + "[DEBUG]" + colorReset
	case "info":
		return colorBlue + "[INFO] " + colorReset
	case "warn", "warning":
		return colorYellow + "[WARN] " + colorReset
	case "error", "fatal", "panic":
		return colorRed + "[ERROR]" + colorReset
	default:
		return "[" + strings.ToUpper(level) + "]"
	}
}
