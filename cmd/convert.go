package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/botmd/internal/mdconvert"
)

func newConvertCmd() *cobra.Command {
	var (
		baseURL string
		engine  string
	)
	cmd := &cobra.Command{
		Use:   "convert [file|-]",
		Short: "Convert an HTML document to Markdown",
		Long: `Reads HTML from a file, or from stdin when the argument is "-" or
omitted, and writes the Markdown rendering to stdout. Relative links and
images are resolved against --base-url.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := envFrom(cmd.Context())
			if err != nil {
				return err
			}
			if engine == "" {
				engine = e.cfg.Botmd.Converter
			}
			conv, err := mdconvert.New(engine, e.logger.Named("mdconvert"))
			if err != nil {
				return fmt.Errorf("init converter: %w", err)
			}

			src := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				src = f
			}
			html, err := io.ReadAll(src)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			md := conv.Convert(string(html), baseURL)
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), md); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "origin used to absolutize relative links")
	cmd.Flags().StringVar(&engine, "engine", "", "converter engine: regex, dom or readability (default from config)")
	return cmd
}
