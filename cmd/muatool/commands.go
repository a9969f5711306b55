package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/muatool/dashboard/internal/authority"
	"github.com/muatool/dashboard/internal/device"
	"github.com/muatool/dashboard/internal/updater"
)

func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dashboard version",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("MuaTool Dashboard v%s\n", c.App.Version)
			return nil
		},
	}
}

// CheckUpdateCmd runs the version gate once and prints the decision.
func CheckUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-update",
		Short: "Ask the server whether this version may run",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			gate := updater.NewGate(newAuthority(c.App.Version, c.Authority.BaseURL, c.Authority.Timeout), c.App.Version, c.Authority.DownloadURL)
			d := gate.Evaluate(ctx)
			if err := printJSON(d); err != nil {
				return err
			}
			if d.MustExit() {
				os.Exit(2)
			}
			return nil
		},
	}
}

// DeviceCmd prints the device id and the data sent with token validation.
func DeviceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "device",
		Short: "Show this machine's device id",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := device.NewProvider()
			payload, err := p.ServerPayload(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"deviceId":   p.StableID(cmd.Context()),
				"deviceInfo": payload,
			})
		},
	}
}

func newAuthority(version, baseURL string, timeout time.Duration) *authority.Client {
	return authority.New(authority.Config{BaseURL: baseURL, Version: version, Timeout: timeout})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
