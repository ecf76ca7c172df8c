package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vitas/explainer-adapters/adapter"
	"github.com/vitas/explainer-adapters/config"
	"github.com/vitas/explainer-adapters/dataset"
	"github.com/vitas/explainer-adapters/env"
	"github.com/vitas/explainer-adapters/explainer"
	"github.com/vitas/explainer-adapters/modelfile"
	"github.com/vitas/explainer-adapters/params"
	"github.com/vitas/explainer-adapters/platform"
	"github.com/vitas/explainer-adapters/pybridge"
	"github.com/vitas/explainer-adapters/scikitlearn"
)

// app holds state shared by commands for one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string

	configPath string
	verbose    bool
	jsonErrors bool
	noColor    bool

	cfg         config.Config
	logger      *zap.Logger
	adapterName string
}

func newApp(stdout, stderr io.Writer, getenv func(string) string) *app {
	return &app{stdout: stdout, stderr: stderr, getenv: getenv}
}

// explainFlags are shared by the sklearn and platform commands.
type explainFlags struct {
	data         string
	target       string
	label        string
	modelType    string
	precalculate bool
}

func (f *explainFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.data, "data", "", "evaluation data CSV with a header row")
	cmd.Flags().StringVar(&f.target, "target", "", "target column in --data")
	cmd.Flags().StringVar(&f.label, "label", "", "explainer label (defaults to the model's name)")
	cmd.Flags().StringVar(&f.modelType, "type", "", "classification or regression (inferred when empty)")
	cmd.Flags().BoolVar(&f.precalculate, "precalculate", true, "compute predictions and residuals eagerly")
}

type envFlags struct {
	yml      string
	condaenv string
	envPath  string
	loader   string
}

func (f *envFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.yml, "yml", "", "conda environment file to create or reuse")
	cmd.Flags().StringVar(&f.condaenv, "condaenv", "", "existing conda environment name")
	cmd.Flags().StringVar(&f.envPath, "env", "", "virtualenv or environment prefix")
	cmd.Flags().StringVar(&f.loader, "loader", "", "pickle or joblib (default from config)")
}

func (f *envFlags) apply(m map[string]string) map[string]string {
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set("yml", f.yml)
	set("condaenv", f.condaenv)
	set("env", f.envPath)
	set("loader", f.loader)
	return m
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "explainer-adapter",
		Short: "Wrap foreign ML models in uniform explainers",
		Long: `explainer-adapter loads models produced outside Go (pickled scikit-learn
estimators, models hosted on an ML platform) and wraps them in explainers:
a model paired with evaluation data, predictions and residuals.

The explainer summary is written to stdout as JSON; errors go to stderr.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath, a.getenv)
			if err != nil {
				return usageError{err}
			}
			a.cfg = cfg
			a.logger, err = newLogger(cfg.Log, a.verbose, a.stderr)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging and explainer construction report")
	root.PersistentFlags().BoolVar(&a.jsonErrors, "json-errors", false, "write errors as a JSON envelope")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "disable colors in the construction report")

	root.AddCommand(a.sklearnCmd(), a.platformCmd(), a.paramsCmd(), a.versionCmd())
	return root
}

func (a *app) sklearnCmd() *cobra.Command {
	var ef explainFlags
	var envf envFlags
	cmd := &cobra.Command{
		Use:   "sklearn MODEL",
		Short: "Explain a pickled scikit-learn model",
		Long: `Loads a pickled scikit-learn estimator (local path or gs://bucket/object)
inside a Python runtime matching --yml, --condaenv or --env, recovers its
constructor parameters and builds an explainer.

Example:
  explainer-adapter sklearn model.pkl --yml environment.yml --data test.csv --target y`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.adapterName = "scikitlearn"
			ad := &scikitlearn.Adapter{Logger: a.logger}
			return a.explain(cmd.Context(), ad, args[0], ef, envf.apply(a.cfg.SklearnConfig()))
		},
	}
	ef.register(cmd)
	envf.register(cmd)
	return cmd
}

func (a *app) platformCmd() *cobra.Command {
	var ef explainFlags
	var project string
	cmd := &cobra.Command{
		Use:   "platform MODEL_ID",
		Short: "Explain a model hosted on the ML platform",
		Long: `Builds an explainer for a platform-hosted model. Predictions are computed
remotely. Without --data, the model's training dataset is used.

The API token comes from platform.token in the config file or
EXPLAINER_PLATFORM_TOKEN.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.adapterName = "platform"
			cfg := a.cfg.PlatformConfig()
			if project != "" {
				cfg["project"] = project
			}
			ad := &platform.Adapter{Logger: a.logger}
			return a.explain(cmd.Context(), ad, args[0], ef, cfg)
		},
	}
	ef.register(cmd)
	cmd.Flags().StringVar(&project, "project", "", "platform project id")
	return cmd
}

func (a *app) paramsCmd() *cobra.Command {
	var envf envFlags
	cmd := &cobra.Command{
		Use:   "params MODEL",
		Short: "Print the constructor parameters of a pickled model",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.adapterName = "scikitlearn"
			ctx := cmd.Context()
			cfg := envf.apply(a.cfg.SklearnConfig())

			f, err := (&modelfile.Opener{CredentialsFile: cfg["credentials_file"]}).Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			prov := &env.Conda{Conda: cfg["conda"], DefaultPython: cfg["python"], Logger: a.logger}
			rt, err := prov.Provision(ctx, env.Spec{Descriptor: cfg["yml"], Name: cfg["condaenv"], Path: cfg["env"]})
			if err != nil {
				return err
			}
			b, err := pybridge.Load(ctx, rt.Python, f.Path, pybridge.WithLoader(cfg["loader"]), pybridge.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer b.Close()
			return params.Print(a.stdout, params.Extract(ctx, b, a.logger))
		},
	}
	envf.register(cmd)
	return cmd
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(a.stdout, "explainer-adapter %s (scikitlearn %s, platform %s)\n",
				Version, scikitlearn.Version, platform.Version)
			return nil
		},
	}
}

func (a *app) explain(ctx context.Context, ad adapter.Adapter, source string, ef explainFlags, cfg map[string]string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	opts := explainer.Options{
		Label:        ef.label,
		Type:         ef.modelType,
		Precalculate: ef.precalculate,
		Verbose:      a.verbose,
		Colorize:     a.colorize(),
		Out:          a.stderr,
	}
	if ef.data != "" {
		fh, err := os.Open(ef.data)
		if err != nil {
			return usagef("open --data: %v", err)
		}
		defer fh.Close()
		data, y, err := dataset.ReadCSV(fh, ef.target)
		if err != nil {
			return usagef("--data: %v", err)
		}
		opts.Data, opts.Y = data, y
	} else if ef.target != "" {
		return usagef("--target needs --data")
	}

	res, err := ad.Explain(ctx, source, opts, cfg)
	if err != nil {
		return err
	}
	defer res.Explainer.Close()
	return writeSummary(a.stdout, res.Explainer, res.Metadata)
}

func (a *app) colorize() bool {
	if a.noColor {
		return false
	}
	switch a.cfg.Color {
	case config.ColorAlways:
		return true
	case config.ColorNever:
		return false
	}
	f, ok := a.stderr.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newLogger(cfg config.Log, verbose bool, w io.Writer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if cfg.Format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level)), nil
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}
