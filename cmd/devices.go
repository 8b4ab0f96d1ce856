package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clpipe/internal/compute"
	"github.com/cwbudde/clpipe/internal/pipeline"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List compute platforms and devices",
	Long: `Enumerates every platform of the selected backend and prints each device
with the limits that work geometry is validated against.`,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	drv, err := pipeline.NewDriver(cfg.Backend)
	if err != nil {
		return err
	}
	platforms, err := compute.Enumerate(drv)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(platforms) == 0 {
		fmt.Fprintln(out, "No platforms found.")
		return nil
	}

	for i, p := range platforms {
		fmt.Fprintf(out, "Platform %d: %s (%s, %s)\n", i, p.Name, p.Vendor, p.Version)
		if len(p.Devices) == 0 {
			fmt.Fprintln(out, "  no devices")
			continue
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  #\tCLASS\tNAME\tUNITS\tMAX WG\tMAX ITEMS\tLOCAL MEM\tGLOBAL MEM\tMAX ALLOC")
		for j, d := range p.Devices {
			fmt.Fprintf(w, "  %d\t%s\t%s\t%d\t%d\t%v\t%s\t%s\t%s\n",
				j,
				d.Class,
				d.Name,
				d.MaxComputeUnits,
				d.MaxWorkGroupSize,
				d.MaxWorkItemSizes,
				formatBytes(d.LocalMemSize),
				formatBytes(d.GlobalMemSize),
				formatBytes(d.MaxMemAllocSize),
			)
		}
		w.Flush()
	}
	return nil
}
