// Command hyperband tunes a synthetic training benchmark with one of the
// package's search strategies, showing the evaluator contract, progress
// monitoring and the run report.
//
// Examples:
//
//	hyperband --strategy=hyperband --max-iter=81 --eta=3 --seed=42
//	hyperband --strategy=random --trials=50
//	hyperband --strategy=grid
//	hyperband --strategy=bayes --parallelism=1 -v=1
package main

import (
	"context"
	"flag"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/thalesfsp/hyperband"
	"k8s.io/klog/v2"
)

var (
	flagStrategy    string
	flagMaxIter     int
	flagEta         int
	flagSeed        int64
	flagParallelism int
	flagTrials      int
	flagTimeout     time.Duration
)

func main() {
	cmd := newCommand()

	klog.InitFlags(nil)
	cmd.Flags().AddGoFlagSet(flag.CommandLine)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hyperband",
		Short: "Tune a synthetic training benchmark",
		Long: "Tune the hyperparameters of a synthetic training benchmark with " +
			"Hyperband, random search, grid search or Bayesian optimization.\n\n" +
			"The benchmark simulates a model whose validation score follows an " +
			"asymptotic learning curve: more resource (epochs) means a more " +
			"reliable estimate, which is exactly the trade-off Hyperband exploits.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&flagStrategy, "strategy", "hyperband",
		"search strategy: hyperband, random, grid or bayes")
	cmd.Flags().IntVar(&flagMaxIter, "max-iter", 81,
		"maximum resource units (epochs) for a single configuration")
	cmd.Flags().IntVar(&flagEta, "eta", 3,
		"downsampling factor between rungs")
	cmd.Flags().Int64Var(&flagSeed, "seed", time.Now().UnixNano(),
		"sampler seed; fix it to reproduce a run")
	cmd.Flags().IntVar(&flagParallelism, "parallelism", 4,
		"maximum concurrent trial evaluations")
	cmd.Flags().IntVar(&flagTrials, "trials", 50,
		"number of configurations (random strategy only)")
	cmd.Flags().DurationVar(&flagTimeout, "trial-timeout", 0,
		"per-trial evaluation timeout (0 disables)")

	return cmd
}

func run(ctx context.Context) error {
	config := hyperband.DefaultConfig()
	config.MaxIter = flagMaxIter
	config.Eta = flagEta
	config.Seed = flagSeed
	config.Parallelism = flagParallelism
	config.TrialTimeout = flagTimeout

	// Large buffer: the engine drops updates rather than block on a full
	// channel, so give it room.
	progress := make(chan hyperband.ProgressUpdate, 4096)
	config.ProgressChan = progress

	bar := progressbar.NewOptions(plannedTrials(config),
		progressbar.OptionSetDescription("trials"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
	)

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)

		for update := range progress {
			// Per-trial updates carry a completion count; bracket-level
			// updates do not.
			if update.TrialsDone > 0 {
				_ = bar.Add(1)
			}
		}
	}()

	start := time.Now()

	var (
		result *hyperband.Result
		err    error
	)

	switch flagStrategy {
	case "hyperband":
		result, err = hyperband.Run(ctx, config, searchSpace(), evaluate)
	case "random":
		result, err = hyperband.RandomSearch(ctx, config, flagTrials, searchSpace(), evaluate)
	case "grid":
		result, err = hyperband.GridSearch(ctx, config, gridSpace(), evaluate)
	case "bayes":
		bayesConfig := hyperband.DefaultBayesianConfig()
		bayesConfig.Config = config

		result, err = hyperband.BayesianSearch(ctx, bayesConfig, bayesSpace(), evaluate)
	default:
		err = fmt.Errorf("unknown strategy %q", flagStrategy)
	}

	close(progress)
	<-consumed

	_ = bar.Finish()
	fmt.Println()

	if err != nil {
		return err
	}

	fmt.Printf("strategy: %s\n", flagStrategy)
	fmt.Printf("trials:   %s in %s (%d failures)\n",
		humanize.Comma(int64(result.Trials)),
		time.Since(start).Round(time.Millisecond),
		len(result.Failures))
	fmt.Printf("best:     %s\n", result.Best)
	fmt.Printf("score:    %.4f\n", result.BestScore)

	for _, bracket := range result.Brackets {
		fmt.Printf("bracket s=%d:", bracket.S)

		for _, rung := range bracket.Rungs {
			fmt.Printf(" %d@%d", rung.Trials, rung.Resource)
		}

		fmt.Println()
	}

	return nil
}

// plannedTrials predicts how many trials the selected strategy will issue,
// to size the progress bar. -1 (spinner) when the count is not known up
// front.
func plannedTrials(config hyperband.Config) int {
	switch flagStrategy {
	case "hyperband":
		brackets, err := hyperband.Schedule(config.MaxIter, config.Eta)
		if err != nil {
			return -1
		}

		total := 0
		for _, bracket := range brackets {
			for _, rung := range bracket.Rungs {
				total += rung.Trials
			}
		}

		return total
	case "random":
		return flagTrials
	case "bayes":
		defaults := hyperband.DefaultBayesianConfig()

		return defaults.InitialSamples + defaults.Iterations
	default:
		return -1
	}
}

// searchSpace is the full benchmark space: a log-scaled learning rate, a
// discrete batch size, and an SGD momentum active only when the optimizer
// choice is "sgd".
func searchSpace() hyperband.SearchSpace {
	return hyperband.SearchSpace{
		"learning_rate": hyperband.LogUniform(1e-4, 1e-1),
		"batch_size":    hyperband.Choose(16, 32, 64, 128, 256),
		"optimizer":     hyperband.Choose("sgd", "adam"),
		"sgd_params": hyperband.Conditional{
			Parent: "optimizer",
			When:   "sgd",
			Space: hyperband.SearchSpace{
				"momentum": hyperband.Uniform(0.0, 0.99),
			},
		},
	}
}

// gridSpace discretizes the continuous parameters so the product stays
// enumerable.
func gridSpace() hyperband.SearchSpace {
	return hyperband.SearchSpace{
		"learning_rate": hyperband.Choose(1e-4, 1e-3, 1e-2, 1e-1),
		"batch_size":    hyperband.Choose(16, 32, 64, 128, 256),
		"optimizer":     hyperband.Choose("sgd", "adam"),
		"sgd_params": hyperband.Conditional{
			Parent: "optimizer",
			When:   "sgd",
			Space: hyperband.SearchSpace{
				"momentum": hyperband.Choose(0.0, 0.5, 0.9),
			},
		},
	}
}

// bayesSpace drops the conditional momentum: the surrogate needs a
// fixed-length encoding.
func bayesSpace() hyperband.SearchSpace {
	return hyperband.SearchSpace{
		"learning_rate": hyperband.LogUniform(1e-4, 1e-1),
		"batch_size":    hyperband.Choose(16, 32, 64, 128, 256),
		"optimizer":     hyperband.Choose("sgd", "adam"),
	}
}

// evaluate simulates training one configuration for `resource` epochs: the
// configuration's intrinsic quality scaled by an asymptotic learning
// curve, plus small per-configuration noise. Deterministic, so runs are
// reproducible.
func evaluate(_ context.Context, cfg hyperband.Configuration, resource int) (float64, error) {
	lr := cfg.Float("learning_rate")
	batch := float64(cfg.Int("batch_size"))

	// Quality peaks at learning_rate=1e-2 and batch_size=64.
	quality := math.Exp(-math.Pow(math.Log10(lr)+2, 2))
	quality *= 1 - math.Abs(math.Log2(batch)-6)/16

	if cfg.Text("optimizer") == "sgd" {
		// Plain SGD needs momentum to keep up with adam.
		sub, _ := cfg.Sub("sgd_params")
		quality *= 0.9 + 0.1*sub.Float("momentum")
	}

	curve := 1 - math.Exp(-float64(resource)/20.0)

	return quality*curve + 0.01*configNoise(cfg), nil
}

// configNoise derives a stable noise term from the configuration identity.
func configNoise(cfg hyperband.Configuration) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(cfg.Key()))

	return rand.New(rand.NewSource(int64(h.Sum64()))).NormFloat64()
}
