package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/fsimage/pkg/compiler"
	"github.com/openfroyo/fsimage/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var listPolicies bool

	cmd := &cobra.Command{
		Use:   "validate <layer-file>",
		Short: "Validate a layer file",
		Long: `Validate a layer file without building it.

This command checks:
  - Syntax and schema of the layer file (YAML, JSON, CUE or Starlark)
  - Every item declaration
  - Policy compliance (built-in and --policy Rego files)
  - Phase preparation: parent layers, build appliance, RPM conflicts

Ordering errors in the pool (unmatched requirements, cycles) depend on the
built phases; 'fsimage plan' reports them against the parent layer.`,
		Example: `  # Validate a layer
  fsimage validate images/app.yaml

  # Validate with additional policies
  fsimage validate images/app.cue --policy ./policies

  # List the policies that would be evaluated
  fsimage validate --list-policies`,
		Args: func(cmd *cobra.Command, args []string) error {
			if listPolicies {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if listPolicies {
				return printPolicies(cmd, a.policies.ListPolicies())
			}

			res, err := a.compiler.Validate(ctx, compiler.BuildRequest{LayerFile: args[0]})
			if jsonOutput {
				report := map[string]interface{}{"valid": err == nil, "policy": res}
				if err != nil {
					report["error"] = err.Error()
				}
				if perr := printJSON(out, report); perr != nil {
					return perr
				}
				return err
			}

			printPolicyWarnings(out, res)
			if err != nil {
				return err
			}
			printSuccess(out, fmt.Sprintf("%s is valid", args[0]))
			return nil
		},
	}

	cmd.Flags().BoolVar(&listPolicies, "list-policies", false, "list the loaded policies and exit")

	return cmd
}

func printPolicies(cmd *cobra.Command, policies []policy.Policy) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, policies)
	}
	printSection(out, "Policies")
	for _, p := range policies {
		state := string(p.Severity)
		if !p.Enabled {
			state += ", disabled"
		}
		printLabelValue(out, p.Name, fmt.Sprintf("%s (%s)", p.Description, state))
	}
	return nil
}
