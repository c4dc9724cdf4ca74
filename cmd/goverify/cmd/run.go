package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jakopako/goverify/internal/browser"
	"github.com/jakopako/goverify/internal/log"
	"github.com/jakopako/goverify/internal/output"
	"github.com/jakopako/goverify/internal/runner"
	"github.com/jakopako/goverify/internal/scenario"
	"github.com/jakopako/goverify/internal/types"
	"github.com/spf13/cobra"
)

// runFlags are the flags shared by run and watch.
type runFlags struct {
	driver       string
	baseURL      string
	parallel     int
	failFast     bool
	artifactsDir string
	summary      bool
	stdout       bool
	dryRun       bool
}

var runOpts runFlags

func init() {
	addRunFlags(runCmd, &runOpts)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringVar(&f.driver, "driver", "", "the browser driver to use: chromedp, rod or static (overrides the config)")
	cmd.Flags().StringVarP(&f.baseURL, "base-url", "u", "", "the base url of the frontend under test (overrides the config)")
	cmd.Flags().IntVarP(&f.parallel, "parallel", "p", 1, "the number of scenarios to run concurrently, each in its own browser")
	cmd.Flags().BoolVar(&f.failFast, "fail-fast", false, "skip the remaining steps of a scenario after its first failure, screenshots are still taken")
	cmd.Flags().StringVar(&f.artifactsDir, "artifacts-dir", "", "the directory screenshots are written to (overrides the config)")
	cmd.Flags().BoolVarP(&f.summary, "summary", "s", false, "print a summary table at the end")
	cmd.Flags().BoolVarP(&f.stdout, "stdout", "o", false, "write the results as json to stdout despite any other writer configuration")
	cmd.Flags().BoolVarP(&f.dryRun, "dry-run", "D", false, "do not persist any results (only has an effect on the api writer)")
}

var runCmd = &cobra.Command{
	Use:   "run [scenario...]",
	Short: "run verification scenarios",
	Long: `Runs verification scenarios.

You can specify the names of the scenarios you want to run as arguments.
If you do not specify any arguments, all configured scenarios are run.`,
	ValidArgsFunction: completeScenarioNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		_, err = execute(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), config, args, &runOpts)
		return err
	},
}

// apply overrides the configuration with the flags that were set.
func (f *runFlags) apply(config *scenario.Config) {
	if f.driver != "" {
		config.Global.Driver = f.driver
	}
	if f.baseURL != "" {
		config.Global.BaseURL = f.baseURL
	}
	if f.failFast {
		config.Global.FailFast = true
	}
	if f.artifactsDir != "" {
		config.Global.ArtifactsDir = f.artifactsDir
	}
	if f.stdout {
		config.Writer.Type = output.STDOUT_WRITER_TYPE
	}
	if f.dryRun {
		config.Writer.DryRun = true
	}
}

// execute runs the named scenarios of config and publishes the results.
// Progress and the summary go to out, or to errOut when the results are
// written to stdout. The error wraps ErrRunFailed if a run did not pass.
func execute(ctx context.Context, out, errOut io.Writer, config *scenario.Config, names []string, f *runFlags) ([]types.Result, error) {
	f.apply(config)
	if config.Writer.Type == output.STDOUT_WRITER_TYPE {
		// stdout only carries the json results
		out = errOut
		log.InitializeLogger(errOut)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	scenarios, err := config.Select(names...)
	if err != nil {
		return nil, err
	}

	g := &config.Global
	driver, err := browser.NewDriver(g.Driver, browser.Config{
		BrowserPath:       g.BrowserPath,
		Headless:          !g.ShowBrowser,
		NavigationTimeout: time.Duration(g.NavigationTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}

	writer, err := output.NewWriter(&config.Writer)
	if err != nil {
		return nil, err
	}

	opts := runner.OptionsFromConfig(g)
	opts.Observer = output.NewProgress(out, noColor)
	r := runner.New(driver, opts)

	slog.Info(fmt.Sprintf("running %d scenarios with %d threads", len(scenarios), min(max(f.parallel, 1), len(scenarios))), slog.String("driver", driver.Name()))

	var resultChan chan types.Result
	var writerWg sync.WaitGroup
	if writer != nil {
		resultChan = make(chan types.Result)
		writerWg.Add(1)
		go func() {
			defer writerWg.Done()
			writer.Write(resultChan)
		}()
	}

	results, runErr := r.RunAll(ctx, scenarios, f.parallel, resultChan)
	if resultChan != nil {
		close(resultChan)
	}
	writerWg.Wait()

	if f.summary {
		if err := output.PrintSummary(out, results); err != nil {
			slog.Error(fmt.Sprintf("failed to print summary: %v", err))
		}
	}

	if runErr != nil {
		return results, fmt.Errorf("%w: %v", ErrRunFailed, runErr)
	}
	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("%w: %v", ErrRunFailed, err)
	}
	failed := 0
	for i := range results {
		if !results[i].Passed() {
			failed++
		}
	}
	if failed > 0 {
		return results, fmt.Errorf("%w: %d of %d scenarios failed", ErrRunFailed, failed, len(results))
	}
	return results, nil
}
