package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MyCarrier-DevOps/slipway/internal/domain"
)

// runOptions are the overrides accepted by 'run' and 'resolve'.
type runOptions struct {
	exe           string
	executionPath string
	vars          []string
}

func (o *runOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.exe, "exe", "",
		"Executable to run, relative to the resolved state path; overrides exe_name")
	cmd.Flags().StringVar(&o.executionPath, "execution-path", "",
		"Working directory, relative to the resolved state path; overrides execution_path")
	cmd.Flags().StringArrayVar(&o.vars, "var", nil,
		"Extra secret binding KEY=ENV_NAME, applied after every layer (repeatable)")
}

// overrides converts the flags into RunOverrides.
func (o *runOptions) overrides(cmd *cobra.Command) (domain.RunOverrides, error) {
	var out domain.RunOverrides
	if cmd.Flags().Changed("exe") {
		exe := o.exe
		out.Executable = &exe
	}
	if cmd.Flags().Changed("execution-path") {
		dir := o.executionPath
		out.ExecutionPath = &dir
	}
	for _, v := range o.vars {
		binding, err := parseVar(v)
		if err != nil {
			return domain.RunOverrides{}, err
		}
		out.Variables = append(out.Variables, binding)
	}
	return out, nil
}

// parseVar parses KEY=ENV_NAME.
func parseVar(s string) (domain.VarBinding, error) {
	key, env, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	env = strings.TrimSpace(env)
	if !ok || key == "" || env == "" {
		return domain.VarBinding{}, fmt.Errorf("invalid --var %q: expected KEY=ENV_NAME", s)
	}
	return domain.VarBinding{SecretKey: key, EnvName: env}, nil
}

func newRunCmd(opts *globalOptions, deps *Dependencies) *cobra.Command {
	runOpts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Resolve the state, bind secrets and run the executable",
		Long: `Resolve the state, bind its secrets to environment variables and run the
executable in the resolved working directory.

slipway exits with the exit code of the executable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts, runOpts, deps)
		},
	}
	runOpts.register(cmd)

	return cmd
}

func runRun(cmd *cobra.Command, opts *globalOptions, runOpts *runOptions, deps *Dependencies) error {
	overrides, err := runOpts.overrides(cmd)
	if err != nil {
		return err
	}

	s, err := openSession(cmd, opts, deps)
	if err != nil {
		return describeError(err)
	}
	defer s.close()

	store, err := s.secretStore()
	if err != nil {
		return err
	}

	runner := deps.RunnerFactory(s.cfg, s.cache, store, s.log)
	code, err := runner.Run(s.ctx, s.input, overrides)
	if err != nil {
		s.log.Error(s.ctx, "run failed", err, nil)
		return describeError(err)
	}

	s.log.Info(s.ctx, "run complete", map[string]interface{}{
		"exit_code": code,
	})

	if code != 0 {
		return &ExitCodeError{Code: code}
	}
	return nil
}

func newResolveCmd(opts *globalOptions, deps *Dependencies) *cobra.Command {
	runOpts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the resolved state without running anything",
		Long: `Resolve the state and print the redirect chain, executable, working
directory and secret bindings. Secret values are never looked up or printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runResolve(cmd, opts, runOpts, deps)
		},
	}
	runOpts.register(cmd)

	return cmd
}

func runResolve(cmd *cobra.Command, opts *globalOptions, runOpts *runOptions, deps *Dependencies) error {
	overrides, err := runOpts.overrides(cmd)
	if err != nil {
		return err
	}

	s, err := openSession(cmd, opts, deps)
	if err != nil {
		return describeError(err)
	}
	defer s.close()

	writer, err := deps.OutputWriterFactory(opts.output)
	if err != nil {
		return err
	}

	runner := deps.RunnerFactory(s.cfg, s.cache, nil, s.log)
	state, err := runner.Resolve(s.ctx, s.input, overrides)
	if err != nil {
		s.log.Error(s.ctx, "failed to resolve state", err, nil)
		return describeError(err)
	}

	if err := writer.WriteResolvedState(state); err != nil {
		s.log.Error(s.ctx, "failed to write output", err, nil)
		return fmt.Errorf("output error: %w", err)
	}

	return nil
}
