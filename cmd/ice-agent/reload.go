package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// getReloadCmd implements ice-agent reload, a thin HTTP client for the
// running agent's admin endpoint, grounded on internal/cli/reload.go's
// execReload.
func getReloadCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "notify a running ice-agent to reload its config via its admin endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := v.GetString("agent.admin_addr")
			if addr == "" {
				return fmt.Errorf("no agent.admin_addr configured")
			}
			res, err := http.Get("http://" + addr + "/reload") // #nosec
			if err != nil {
				return err
			}
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status %s", res.Status)
			}
			fmt.Println("OK")
			return nil
		},
	}
}
