package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/timzifer/paramflow/processor"
	"github.com/timzifer/paramflow/runtime/params"
	"github.com/timzifer/paramflow/runtime/storage"
	"github.com/timzifer/paramflow/service"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the steps metadata and every expression",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.open(cmd, true)
			if err != nil {
				return err
			}
			defer p.Close()
			problems := checkSteps(p)
			out := cmd.OutOrStdout()
			if len(problems) == 0 {
				fmt.Fprintf(out, "%s %d steps checked\n", okStyle.Render("OK"), len(p.Storage().StepFiles()))
				return nil
			}
			for _, problem := range problems {
				fmt.Fprintf(out, "%s %s\n", errStyle.Render("✗"), problem)
			}
			fmt.Fprintf(out, "%d problems found\n", len(problems))
			return errReported
		},
	}
}

func checkSteps(p *processor.Processor) []string {
	var problems []string
	session := p.Session()
	if err := session.Navigator().Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	evaluator := session.Evaluator()
	for _, file := range p.Storage().StepFiles() {
		step, _ := p.Storage().Step(file)
		check := func(kind string, exprs map[string]storage.ParameterExpression) {
			for _, name := range sortedNames(exprs) {
				if !params.ValidName(name) {
					problems = append(problems, fmt.Sprintf("%s: %s parameter %q has an invalid name", file, kind, name))
				}
				if err := evaluator.Check(exprs[name].NewValue); err != nil {
					problems = append(problems, fmt.Sprintf("%s: %s parameter %s: %v", file, kind, name, err))
				}
			}
		}
		check("forced", step.ForcedParameters)
		check("derived", step.DerivedParameters)
		if step.RenameConnection != "" {
			if err := evaluator.Check(step.RenameConnection); err != nil {
				problems = append(problems, fmt.Sprintf("%s: rename_connection: %v", file, err))
			}
		}
		if _, err := p.Storage().ParametersForFile(file); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", file, err))
		}
	}
	return problems
}

func newPlanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "List the configuration steps with phases, optionality and jumps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.open(cmd, true)
			if err != nil {
				return err
			}
			defer p.Close()
			return printPlan(cmd.OutOrStdout(), p)
		},
	}
}

func printPlan(out io.Writer, p *processor.Processor) error {
	nav := p.Session().Navigator()
	threshold := p.Config().Navigator.OptionalThreshold
	phase := ""
	for _, file := range p.Storage().StepFiles() {
		if ph, ok := nav.PhaseFor(file); ok && ph.Name != phase {
			phase = ph.Name
			fmt.Fprintln(out, headerStyle.Render(phase))
		}
		marker := "  "
		if nav.IsOptional(file, service.CompletelyOptional) {
			marker = dimStyle.Render("○ ")
		} else if nav.IsOptional(file, threshold) {
			marker = warnStyle.Render("◐ ")
		}
		line := marker + file
		if text := p.Storage().MandatoryPercentageTextFor(file); text != "" {
			line += dimStyle.Render("  " + text)
		}
		fmt.Fprintln(out, line)
		for _, jump := range p.Storage().JumpTargetsFor(file) {
			fmt.Fprintf(out, "    ↳ %s %s\n", jump.Destination, dimStyle.Render(jump.Message))
		}
	}
	path, err := nav.ShortestPath()
	if err != nil {
		return err
	}
	if len(path) > 0 {
		fmt.Fprintf(out, "Shortest path: %s\n", strings.Join(path, " → "))
	}
	return nil
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "resolve STEP",
		Short: "Show the parameters of a step after forced and derived values are applied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.open(cmd, offline)
			if err != nil {
				return err
			}
			defer p.Close()
			if err := p.Session().Open(args[0]); err != nil {
				return err
			}
			printParameters(cmd.OutOrStdout(), p.Session())
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Resolve without a flight controller")
	return cmd
}

func printParameters(out io.Writer, session *service.Session) {
	info := session.Info()
	fmt.Fprintln(out, headerStyle.Render(info.File))
	if info.Description != "" {
		fmt.Fprintln(out, dimStyle.Render(info.Description))
	}
	if info.AutoChangedBy != "" {
		fmt.Fprintln(out, warnStyle.Render("Edited by "+info.AutoChangedBy))
	}
	if info.ForcedError != nil {
		fmt.Fprintf(out, "%s %v\n", errStyle.Render("✗"), info.ForcedError)
	}
	session.Parameters().Each(func(p *params.Parameter) {
		flag := " "
		switch {
		case p.Forced:
			flag = "F"
		case p.Derived:
			flag = "D"
		}
		device := "-"
		if p.DeviceValue != nil {
			device = params.FormatValue(*p.DeviceValue)
		}
		line := fmt.Sprintf("%s %-16s %12s  device %s", flag, p.Name, params.FormatValue(p.NewValue), device)
		if p.ChangeReason != "" {
			line += dimStyle.Render("  # " + p.ChangeReason)
		}
		fmt.Fprintln(out, line)
	})
}

func newUploadCmd(opts *rootOptions) *cobra.Command {
	var names []string
	cmd := &cobra.Command{
		Use:   "upload [STEP]",
		Short: "Upload a step to the flight controller and validate it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.open(cmd, false)
			if err != nil {
				return err
			}
			defer p.Close()
			if !p.Device().IsConnected() {
				return service.ErrDeviceNotConnected
			}
			step := ""
			if len(args) == 1 {
				step = args[0]
			} else if step, err = p.ResumeStep(); err != nil {
				return err
			}
			if err := p.Session().Open(step); err != nil {
				return err
			}
			result, err := p.Upload(cmd.Context(), names...)
			if result != nil {
				printUploadResult(cmd.OutOrStdout(), step, result)
			}
			return err
		},
	}
	cmd.Flags().StringSliceVarP(&names, "param", "p", nil, "Upload only these parameters")
	return cmd
}

func printUploadResult(out io.Writer, step string, result *service.UploadResult) {
	status := okStyle.Render(result.State.String())
	if result.State != service.StateDone {
		status = errStyle.Render(result.State.String())
	}
	fmt.Fprintf(out, "%s %s: %d uploaded, %d changed, %d unchanged, %d attempts\n",
		status, step, len(result.Uploaded), result.Changed, result.Unchanged, result.Attempts)
	if result.ResetPerformed {
		fmt.Fprintln(out, warnStyle.Render("Flight controller was reset"))
	}
	for _, werr := range result.WriteErrors {
		fmt.Fprintf(out, "%s %v\n", errStyle.Render("✗"), werr)
	}
	for _, mismatch := range result.Mismatches {
		fmt.Fprintf(out, "%s %v\n", errStyle.Render("≠"), mismatch)
	}
}

func newNextCmd(opts *rootOptions) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Print the step to continue with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := opts.open(cmd, true)
			if err != nil {
				return err
			}
			defer p.Close()
			if from == "" {
				step, err := p.ResumeStep()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), step)
				return nil
			}
			if err := p.Session().Open(from); err != nil {
				return err
			}
			next, ok := p.Session().Next()
			if !ok {
				return errors.New("no further configuration step")
			}
			fmt.Fprintln(cmd.OutOrStdout(), next)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Step to continue from instead of the recorded progress")
	return cmd
}

func sortedNames(exprs map[string]storage.ParameterExpression) []string {
	names := make([]string, 0, len(exprs))
	for name := range exprs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
