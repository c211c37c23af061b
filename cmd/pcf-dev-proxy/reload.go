package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/pcf-tools/pcf-dev-proxy/internal/config"
	"github.com/pcf-tools/pcf-dev-proxy/internal/ui"
)

// reloadCmd posts a reload request to a running proxy's control plane.
// Build hooks call this after a successful compile.
var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Trigger a hot reload on a running proxy",
	Example: `  pcf-dev-proxy reload --control cc_Contoso.MyControl
  pcf-dev-proxy reload --control cc_Contoso.MyControl --build-id 42 --trigger post-build`,
	RunE: runReload,
}

func init() {
	reloadCmd.Flags().String("control", "", "Control identifier (required)")
	reloadCmd.Flags().Int("ws-port", config.DefaultWsPort, "Control plane port")
	reloadCmd.Flags().String("build-id", "", "Build identifier (default: timestamp)")
	reloadCmd.Flags().String("trigger", "", "Trigger label (default: manual)")
	reloadCmd.Flags().String("changed-files", "", "Comma-separated list of changed files")
	reloadCmd.MarkFlagRequired("control")
}

// runReload builds the request body and posts it to /reload.
func runReload(cmd *cobra.Command, args []string) error {
	control, _ := cmd.Flags().GetString("control")
	wsPort, _ := cmd.Flags().GetInt("ws-port")
	buildId, _ := cmd.Flags().GetString("build-id")
	trigger, _ := cmd.Flags().GetString("trigger")
	changedFiles, _ := cmd.Flags().GetString("changed-files")

	body := buildReloadBody(control, buildId, trigger, changedFiles)

	url := fmt.Sprintf("http://127.0.0.1:%d/reload", wsPort)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		return fmt.Errorf("could not reach the control plane on port %d (is the proxy running with --hot?): %w", wsPort, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		if msg := gjson.GetBytes(payload, "error").String(); msg != "" {
			return fmt.Errorf("reload rejected: %s", msg)
		}
		return fmt.Errorf("reload rejected: HTTP %d", resp.StatusCode)
	}

	id := gjson.GetBytes(payload, "id").String()
	ui.PrintSuccess("Reload accepted: %s", id)
	return nil
}

// buildReloadBody assembles the /reload request body. Empty optional flags
// are omitted so the control plane applies its own defaults.
func buildReloadBody(control, buildId, trigger, changedFiles string) string {
	body := "{}"
	body, _ = sjson.Set(body, "controlName", control)
	if buildId != "" {
		body, _ = sjson.Set(body, "buildId", buildId)
	}
	if trigger != "" {
		body, _ = sjson.Set(body, "trigger", trigger)
	}
	if changedFiles != "" {
		for _, file := range strings.Split(changedFiles, ",") {
			if file = strings.TrimSpace(file); file != "" {
				body, _ = sjson.Set(body, "changedFiles.-1", file)
			}
		}
	}
	return body
}
