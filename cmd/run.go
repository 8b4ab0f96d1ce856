package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clpipe/internal/compute"
	"github.com/cwbudde/clpipe/internal/compute/driver"
	"github.com/cwbudde/clpipe/internal/pipeline"
	"github.com/cwbudde/clpipe/internal/store"
)

var (
	gridN       int
	iterations  int
	localSize   []int
	printOutput bool
	vectorN     int
	elementN    int
	globalSize  int
	kernelPath  string
	identityN   int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a compute pipeline",
	Long: `Runs one pipeline end to end: open the device, build the program, upload,
dispatch, download and verify against a host reference. The run is recorded
under the data directory unless --no-record is set.`,
}

var runJacobiCmd = &cobra.Command{
	Use:   "jacobi",
	Short: "Apply the Jacobi 5-point stencil to an N x N grid",
	RunE: func(cmd *cobra.Command, args []string) error {
		rc := runConfig()
		rc.N, rc.Iterations = gridN, iterations
		return executeRun(cmd.OutOrStdout(), "jacobi", rc, func(opts pipeline.Options) (*pipeline.Result, error) {
			return pipeline.RunJacobi(pipeline.JacobiConfig{N: gridN, Iterations: iterations}, opts)
		})
	},
}

var runScalarProdCmd = &cobra.Command{
	Use:   "scalarprod",
	Short: "Compute batched scalar products with a work-group reduction",
	RunE: func(cmd *cobra.Command, args []string) error {
		rc := runConfig()
		rc.VectorN, rc.ElementN, rc.Global = vectorN, elementN, globalSize
		return executeRun(cmd.OutOrStdout(), "scalarprod", rc, func(opts pipeline.Options) (*pipeline.Result, error) {
			return pipeline.RunScalarProduct(pipeline.ScalarProdConfig{
				VectorN:  vectorN,
				ElementN: elementN,
				Global:   globalSize,
			}, opts)
		})
	},
}

var runIdentityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Copy a buffer through the device and compare it with the input",
	RunE: func(cmd *cobra.Command, args []string) error {
		rc := runConfig()
		rc.N = identityN
		return executeRun(cmd.OutOrStdout(), "identity", rc, func(opts pipeline.Options) (*pipeline.Result, error) {
			return pipeline.RunIdentity(pipeline.IdentityConfig{N: identityN}, opts)
		})
	},
}

func init() {
	d := pipeline.DefaultTolerance
	runCmd.PersistentFlags().IntSliceVar(&localSize, "local", nil, "Work-group size override, comma separated per dimension")
	runCmd.PersistentFlags().StringVar(&kernelPath, "kernel", "", "Kernel source file replacing the embedded program")
	runCmd.PersistentFlags().BoolVar(&printOutput, "print", false, "Print the output values")
	runCmd.PersistentFlags().Float64("tolerance", d, "Verification tolerance relative to the largest reference value")

	runJacobiCmd.Flags().IntVarP(&gridN, "n", "n", 16, "Grid size N")
	runJacobiCmd.Flags().IntVar(&iterations, "iterations", 1, "Number of stencil iterations")

	runScalarProdCmd.Flags().IntVar(&vectorN, "vectors", 4, "Number of vector pairs")
	runScalarProdCmd.Flags().IntVar(&elementN, "elements", 4, "Elements per vector")
	runScalarProdCmd.Flags().IntVar(&globalSize, "global", 0, "Global work size (default one work-group)")

	runIdentityCmd.Flags().IntVarP(&identityN, "n", "n", 1024, "Number of elements")

	runCmd.AddCommand(runJacobiCmd, runScalarProdCmd, runIdentityCmd)
	rootCmd.AddCommand(runCmd)
}

func runConfig() store.RunConfig {
	return store.RunConfig{
		Backend:      cfg.Backend,
		DeviceClass:  cfg.Device,
		Platform:     cfg.Platform,
		Fallback:     cfg.Fallback,
		BuildOptions: cfg.BuildOptions,
		KernelPath:   kernelPath,
		Local:        localSize,
		Tolerance:    cfg.Tolerance,
	}
}

// executeRun resolves the driver, runs the pipeline and records the outcome.
func executeRun(out io.Writer, name string, rc store.RunConfig, run func(pipeline.Options) (*pipeline.Result, error)) error {
	class, ok := driver.ParseDeviceClass(cfg.Device)
	if !ok {
		return fmt.Errorf("unknown device class %q", cfg.Device)
	}

	record := store.NewRunRecord(name, rc)
	var trace *store.TraceWriter
	if !cfg.NoRecord {
		var err error
		if trace, err = store.NewTraceWriter(cfg.DataDir, record.ID, false); err != nil {
			return fmt.Errorf("failed to open run trace: %w", err)
		}
		defer trace.Close()
	}

	opts := pipeline.Options{
		Backend:      cfg.Backend,
		DeviceClass:  class,
		Platform:     cfg.Platform,
		Fallback:     cfg.Fallback,
		BuildOptions: cfg.BuildOptions,
		KernelPath:   kernelPath,
		Local:        localSize,
		Tolerance:    cfg.Tolerance,
		Logger:       logger,
		Observe: func(e pipeline.Event) {
			if trace == nil {
				return
			}
			entry := store.TraceEntry{Stage: string(e.Stage), Duration: e.Duration, Timestamp: time.Now()}
			if e.Err != nil {
				entry.Error = e.Err.Error()
			}
			if err := trace.Write(entry); err != nil {
				slog.Warn("Failed to write trace entry", "error", err)
			}
		},
	}

	res, err := run(opts)

	if !cfg.NoRecord {
		fillRecord(record, res, err)
		if serr := saveRecord(record); serr != nil {
			slog.Warn("Failed to record run", "run_id", record.ID, "error", serr)
		} else {
			slog.Info("Run recorded", "run_id", record.ID)
		}
	}
	if err != nil {
		return err
	}

	printResult(out, res)
	return nil
}

func saveRecord(record *store.RunRecord) error {
	fs, err := store.NewFSStore(cfg.DataDir)
	if err != nil {
		return err
	}
	return fs.SaveRun(record)
}

func fillRecord(record *store.RunRecord, res *pipeline.Result, err error) {
	record.Status = store.StatusOK
	if err != nil {
		record.Status = store.StatusFailed
		record.Error = err.Error()
		if log, ok := compute.BuildLog(err); ok {
			record.BuildLog = log
		}
	}
	if res == nil {
		return
	}
	record.Driver = res.Driver
	record.Platform = res.Platform
	record.Device = res.Device
	record.Global = res.Global
	record.Local = res.Local
	record.Padded = res.Padded
	record.FailedStage = string(res.FailedStage)
	record.MaxAbsError = res.MaxAbsError
	if res.Digest != 0 {
		record.Digest = fmt.Sprintf("%016x", res.Digest)
	}
	record.Elapsed = res.Elapsed
	for _, t := range res.Timings {
		record.Timings = append(record.Timings, store.StageTiming{
			Stage:    string(t.Stage),
			Duration: t.Duration,
			Calls:    t.Calls,
		})
	}
}

func printResult(out io.Writer, res *pipeline.Result) {
	fmt.Fprintf(out, "%s on %s (%s)\n", res.Pipeline, res.Device, res.Platform)
	fmt.Fprintf(out, "global %v local %v", res.Global, res.Local)
	if res.Padded {
		fmt.Fprint(out, " (padded)")
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "max abs error %g, digest %016x, elapsed %s\n", res.MaxAbsError, res.Digest, res.Elapsed.Round(time.Microsecond))

	if !printOutput {
		return
	}
	width := len(res.Output)
	if res.Pipeline == "jacobi" && gridN > 0 {
		width = gridN
	}
	for start := 0; start < len(res.Output); start += width {
		row := res.Output[start:min(start+width, len(res.Output))]
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprintf("%g", v)
		}
		fmt.Fprintln(out, strings.Join(cells, " "))
	}
}
