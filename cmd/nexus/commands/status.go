package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-nexus/nexus/internal/config"
)

var statusBridgeAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running daemon",
	Long:  `Query a running daemon's bridge API and print process, connection and stream state.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusBridgeAddr, "bridge", "", "Bridge address (default: from config)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr := statusBridgeAddr
	if addr == "" {
		cfgPath := configPath
		if cfgPath == "" {
			cfgPath = config.GetPaths().ConfigFile()
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		addr = fmt.Sprintf("%s:%d", cfg.Bridge.Host, cfg.Bridge.Port)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	for _, section := range []struct {
		label string
		path  string
	}{
		{"process", "/state/process"},
		{"connection", "/state/connection"},
		{"stream", "/state/stream"},
	} {
		resp, err := client.Get("http://" + addr + section.path)
		if err != nil {
			return fmt.Errorf("daemon not reachable at %s: %w", addr, err)
		}
		var state map[string]any
		err = json.NewDecoder(resp.Body).Decode(&state)
		resp.Body.Close()
		if err != nil {
			return err
		}
		pretty, _ := json.MarshalIndent(state, "", "  ")
		fmt.Printf("%s:\n%s\n", section.label, pretty)
	}
	return nil
}
