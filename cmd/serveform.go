package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/figueredoestupinan2025/rpa-productos/internal/formserver"
)

// newServeFormCmd creates the 'serve-form' subcommand, which hosts a local
// feedback form the automation can target instead of a remote one.
func newServeFormCmd() *cobra.Command {
	var (
		port      int
		uploadDir string
	)

	cmd := &cobra.Command{
		Use:   "serve-form",
		Short: "Serves a local feedback form",
		Long: `Hosts a minimal feedback form on localhost. Point form.url at it to
exercise the web-form stage without a remote form.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			srv := formserver.NewServer(uploadDir, logger)
			return srv.ListenAndServe(fmt.Sprintf(":%d", port))
		},
	}

	cmd.Flags().IntVar(&port, "port", 8780, "port to listen on")
	cmd.Flags().StringVar(&uploadDir, "dir", "data/form-uploads", "directory for received attachments")
	return cmd
}
