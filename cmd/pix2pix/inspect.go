package main

import (
	"fmt"
	"io"

	pix2pix "github.com/LdDl/pix2pix-go"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect CHECKPOINT",
		Short: "Show step, geometry and parameters of a checkpoint file or directory",
		Args:  cobra.ExactArgs(1),
		RunE:  InspectHandler,
	}
	cmd.Flags().Bool("params", false, "List every parameter tensor")
	return cmd
}

// InspectHandler Prints checkpoint summary
func InspectHandler(cmd *cobra.Command, args []string) error {
	state, err := pix2pix.LoadCheckpoint(args[0])
	if err != nil {
		return err
	}
	listParams, _ := cmd.Flags().GetBool("params")
	return writeStateSummary(cmd.OutOrStdout(), state, listParams)
}

func writeStateSummary(w io.Writer, state *pix2pix.ModelState, listParams bool) error {
	cfg := state.Config
	updates := func(s *pix2pix.AdamState) string {
		if s == nil {
			return "0"
		}
		return fmt.Sprint(s.Updates)
	}
	summary := [][]string{
		{"step", fmt.Sprint(state.Step)},
		{"image size", fmt.Sprint(cfg.ImageSize)},
		{"l1 lambda", fmt.Sprint(cfg.L1Lambda)},
		{"generator", fmt.Sprintf("depth %d, filters %d..%d, %d tensors, %d values", cfg.Generator.Depth, cfg.Generator.BaseFilters, cfg.Generator.MaxFilters, state.Generator.Len(), state.Generator.NumElements())},
		{"discriminator", fmt.Sprintf("depth %d, filters %d..%d, %d tensors, %d values", cfg.Discriminator.Depth, cfg.Discriminator.BaseFilters, cfg.Discriminator.MaxFilters, state.Discriminator.Len(), state.Discriminator.NumElements())},
		{"score grid", fmt.Sprintf("%dx%d", cfg.Discriminator.GridSize(cfg.ImageSize), cfg.Discriminator.GridSize(cfg.ImageSize))},
		{"optimizer", fmt.Sprintf("lr %g, beta1 %g, beta2 %g", cfg.Optimizer.LearnRate, cfg.Optimizer.Beta1, cfg.Optimizer.Beta2)},
		{"optimizer updates", fmt.Sprintf("generator %s, discriminator %s", updates(state.GeneratorOptimizer), updates(state.DiscriminatorOptimizer))},
	}
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(summary)
	table.Render()
	if !listParams {
		return nil
	}

	var data [][]string
	for _, set := range []*pix2pix.ParamSet{state.Generator, state.Discriminator} {
		for _, name := range set.Names() {
			v := set.Get(name)
			data = append(data, []string{name, fmt.Sprint(v.Shape()), fmt.Sprint(v.Shape().TotalSize())})
		}
	}
	fmt.Fprintln(w)
	params := tablewriter.NewWriter(w)
	params.SetHeader([]string{"NAME", "SHAPE", "SIZE"})
	params.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	params.SetAlignment(tablewriter.ALIGN_LEFT)
	params.SetHeaderLine(false)
	params.SetBorder(false)
	params.SetNoWhiteSpace(true)
	params.SetTablePadding("    ")
	params.AppendBulk(data)
	params.Render()
	return nil
}
