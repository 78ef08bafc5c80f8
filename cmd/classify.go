package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/botmd/internal/detector"
)

type classification struct {
	IsBot         bool   `json:"is_bot"`
	Reason        string `json:"reason"`
	Path          string `json:"path"`
	PathRule      string `json:"path_rule"`
	WouldConvert  bool   `json:"would_convert"`
	BotmdDisabled bool   `json:"botmd_disabled,omitempty"`
}

func newClassifyCmd() *cobra.Command {
	var (
		userAgent string
		accept    string
		path      string
	)
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Show how the configured rules treat a request",
		Long: `Evaluates a User-Agent, Accept header and path against the configured
path rules, user-agent rules and bot catalog without fetching anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := envFrom(cmd.Context())
			if err != nil {
				return err
			}
			bc, err := e.cfg.ToBotmd(e.logger.Named("botmd"))
			if err != nil {
				return err
			}
			rc, err := bc.Resolve()
			if err != nil {
				return fmt.Errorf("resolve config: %w", err)
			}

			decision := detector.New(rc.UserAgents, detector.WithCatalog(rc.BotCatalog)).Classify(userAgent, accept)
			pathOutcome := rc.Paths.Evaluate(path, nil)
			permitted := rc.Paths.Permits(path)
			out := classification{
				IsBot:         decision.IsBot,
				Reason:        string(decision.Reason),
				Path:          path,
				PathRule:      pathOutcome.String(),
				WouldConvert:  rc.Enabled && permitted && decision.IsBot,
				BotmdDisabled: !rc.Enabled,
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "User-Agent header to classify")
	cmd.Flags().StringVar(&accept, "accept", "", "Accept header to classify")
	cmd.Flags().StringVar(&path, "path", "/", "request path checked against the path rules")
	return cmd
}
