package main

import (
	"github.com/spf13/cobra"
)

func buildDoctorCmd() *cobra.Command {
	var addr, apiKey string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run the control-plane configuration/health audit",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialControlPlane(addr, apiKey)
			if err != nil {
				return err
			}
			defer client.Close()

			var result map[string]any
			if err := client.call("doctor.audit", nil, &result, defaultRequestTimeout); err != nil {
				return err
			}
			printJSON(result)
			return nil
		},
	}
	addControlPlaneFlags(cmd, &addr, &apiKey)
	return cmd
}
