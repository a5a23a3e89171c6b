package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(opts *globalOptions, deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect slipway caches",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "refs",
		Short: "List cached ref resolutions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCacheRefs(cmd, opts, deps)
		},
	})
	return cmd
}

func runCacheRefs(cmd *cobra.Command, opts *globalOptions, deps *Dependencies) error {
	s, err := openSession(cmd, opts, deps)
	if err != nil {
		return describeError(err)
	}
	defer s.close()

	writer, err := deps.OutputWriterFactory(opts.output)
	if err != nil {
		return err
	}

	entries, err := s.cache.List(s.ctx)
	if err != nil {
		s.log.Error(s.ctx, "failed to list ref cache", err, nil)
		return fmt.Errorf("ref cache error: %w", err)
	}

	if err := writer.WriteRefCacheEntries(entries); err != nil {
		return fmt.Errorf("output error: %w", err)
	}
	return nil
}
