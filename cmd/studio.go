package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/studio-gateway/internal/studio"
)

type credentialFlags struct {
	userID string
	apiKey string
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.userID, "user-id", "",
		"Lightning user ID (default $"+studio.HeaderUserID+")")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "",
		"Lightning API key (default $"+studio.HeaderAPIKey+")")
}

func (f *credentialFlags) credentials() studio.Credentials {
	creds := studio.Credentials{UserID: f.userID, APIKey: f.apiKey}
	if creds.UserID == "" {
		creds.UserID = os.Getenv(studio.HeaderUserID)
	}
	if creds.APIKey == "" {
		creds.APIKey = os.Getenv(studio.HeaderAPIKey)
	}
	return creds
}

// newStartCmd creates the 'start' subcommand, which starts a studio without
// going through HTTP and prints it as JSON.
func newStartCmd() *cobra.Command {
	var (
		ref   studio.Ref
		creds credentialFlags
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Create (if needed) and start a studio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			st, err := appInstance.Studios().Start(cmd.Context(), creds.credentials(), ref)
			if err != nil {
				return fmt.Errorf("start studio: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(st); err != nil {
				return fmt.Errorf("encode studio: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ref.Name, "name", "", "studio name")
	cmd.Flags().StringVar(&ref.Teamspace, "teamspace", "", "teamspace the studio lives in")
	cmd.Flags().StringVar(&ref.User, "user", "", "user owning the teamspace")
	for _, name := range []string{"name", "teamspace", "user"} {
		_ = cmd.MarkFlagRequired(name)
	}
	creds.register(cmd)
	return cmd
}

// newStopCmd creates the 'stop' subcommand.
func newStopCmd() *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "stop <studio_id>",
		Short: "Stop a studio by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Studios().Stop(cmd.Context(), creds.credentials(), args[0]); err != nil {
				return fmt.Errorf("stop studio: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", args[0])
			return nil
		},
	}
	creds.register(cmd)
	return cmd
}
