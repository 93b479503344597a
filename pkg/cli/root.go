package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/debjordan/ModuleHeatmap/pkg/client"
)

const (
	EnvURL   = "HEATMAP_URL"
	EnvAppID = "HEATMAP_APP_ID"

	outputTable = "table"
	outputJSON  = "json"
)

type rootOptions struct {
	baseURL string
	appID   string
	output  string
	timeout time.Duration
}

// NewRootCommand builds the heatmapctl command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "heatmapctl",
		Short: "Query and feed the module heat map service",
		Long: `heatmapctl talks to a module heat map server on behalf of one application.

Record module accesses, render the heat map, inspect a single module,
and list modules nobody has opened recently.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case outputTable, outputJSON:
				return nil
			default:
				return fmt.Errorf("unknown output format %q (want %s or %s)", opts.output, outputTable, outputJSON)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.baseURL, "url", envOr(EnvURL, "http://localhost:8080"), "Heat map server URL [$"+EnvURL+"]")
	flags.StringVarP(&opts.appID, "app", "a", os.Getenv(EnvAppID), "Application ID [$"+EnvAppID+"]")
	flags.StringVarP(&opts.output, "output", "o", outputTable, "Output format: table, json")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")

	root.AddCommand(
		newTrackCommand(opts),
		newHeatmapCommand(opts),
		newModuleCommand(opts),
		newUnusedCommand(opts),
		newTopUsersCommand(opts),
	)
	return root
}

func (o *rootOptions) client() (*client.Client, error) {
	return client.New(client.Options{
		BaseURL:       o.baseURL,
		ApplicationID: o.appID,
		Timeout:       o.timeout,
		Retry:         client.DefaultRetryConfig(),
	})
}

// render writes v as JSON, or hands the writer to table otherwise.
func (o *rootOptions) render(w io.Writer, v interface{}, table func(io.Writer) error) error {
	if o.output == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return table(w)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parseDate accepts a calendar date or an RFC 3339 timestamp. Empty means
// the server default.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}
