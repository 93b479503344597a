package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/debjordan/ModuleHeatmap/pkg/analytics"
)

func newTrackCommand(opts *rootOptions) *cobra.Command {
	var (
		user       string
		moduleURL  string
		accessType string
		duration   time.Duration
		metadata   map[string]string
	)

	cmd := &cobra.Command{
		Use:   "track <module>",
		Short: "Record one module access",
		Example: `  heatmapctl track invoices --user u-42 --module-url /billing/invoices
  heatmapctl track reports --user u-7 --type export --duration 90s --meta format=csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := analytics.ParseAccessType(accessType)
			if err != nil {
				return err
			}
			if moduleURL == "" {
				moduleURL = "/" + args[0]
			}
			req := analytics.TrackRequest{
				UserID:     user,
				ModuleName: args[0],
				ModuleURL:  moduleURL,
				AccessType: t,
				DurationMs: duration.Milliseconds(),
			}
			if len(metadata) > 0 {
				req.Metadata = make(map[string]interface{}, len(metadata))
				for k, v := range metadata {
					req.Metadata[k] = v
				}
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := c.Track(cmd.Context(), req)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), resp, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "recorded %s access to %s (event %s)\n", t, args[0], resp.EventID)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User ID")
	cmd.Flags().StringVar(&moduleURL, "module-url", "", "Module URL (defaults to /<module>)")
	cmd.Flags().StringVarP(&accessType, "type", "t", analytics.AccessView.String(), "Access type name or code")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Time spent in the module")
	cmd.Flags().StringToStringVar(&metadata, "meta", nil, "Metadata key=value pairs")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
