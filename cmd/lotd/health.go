package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/lotgate/internal/client"
	"github.com/alfredjeanlab/lotgate/internal/server"
	"github.com/alfredjeanlab/lotgate/internal/ui"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check per-task health over gRPC",
	Long: `Check the gRPC health service of a running lotd.

The overall service is always checked. Task names are taken from the status
API when it is reachable, so each task is reported on its own line.`,
	GroupID: "views",
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var services []string
		if st, err := statusClient.Status(ctx); err == nil {
			for _, t := range st.Tasks {
				services = append(services, server.HealthServiceName(t.Task))
			}
		}

		hc, err := client.NewHealthClient(grpcAddr)
		if err != nil {
			return err
		}
		defer hc.Close()

		results, err := hc.CheckAll(ctx, services)
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			type entry struct {
				Service  string          `json:"service"`
				Response json.RawMessage `json:"response"`
			}
			entries := make([]entry, 0, len(results))
			for _, r := range results {
				raw, err := protojson.Marshal(r.Response)
				if err != nil {
					return fmt.Errorf("marshaling health: %w", err)
				}
				entries = append(entries, entry{Service: r.Service, Response: raw})
			}
			if err := printJSON(out, entries); err != nil {
				return err
			}
		} else {
			for _, r := range results {
				name := r.Service
				if name == "" {
					name = "(overall)"
				}
				fmt.Fprintf(out, "%-22s %s\n", name, renderServing(r))
			}
		}

		if !results[0].Serving() {
			return fmt.Errorf("unhealthy: %s", results[0].Response.GetStatus())
		}
		return nil
	},
}

func renderServing(r client.ServiceHealth) string {
	s := r.Response.GetStatus().String()
	if r.Serving() {
		return ui.RenderAccent(s)
	}
	return ui.RenderMuted(s)
}

func init() {
	healthCmd.Flags().Duration("timeout", 5*time.Second, "overall timeout for the checks")
}
