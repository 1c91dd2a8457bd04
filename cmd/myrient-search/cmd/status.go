package cmd

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Myrient-Search/Myrient-Search/internal/config"
)

// newStatusCmd creates the status command: queries a running server's
// admin status endpoint.
func newStatusCmd() *cobra.Command {
	var addr string
	var adminKey string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show catalog and pipeline status of a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = "http://localhost" + cfg.Server.Addr
			}
			if adminKey == "" {
				adminKey = cfg.Server.AdminKey
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, addr+"/admin/status", nil)
			if err != nil {
				return err
			}
			req.Header.Set("X-Admin-Key", adminKey)

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("reach server at %s: %w", addr, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status %d: %s", resp.StatusCode, body)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Server base URL (default: http://localhost<server.addr>)")
	cmd.Flags().StringVar(&adminKey, "admin-key", "", "Admin key (default: from config/env)")
	return cmd
}
