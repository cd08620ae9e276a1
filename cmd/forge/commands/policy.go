package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wonny/forge/internal/policy"
)

var (
	policyCmd = &cobra.Command{
		Use:   "policy",
		Short: "Inspect the operator policy",
	}

	policyShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective policy as YAML",
		Long: `Prints the file given by --policy decoded over the built-in defaults. Without
--policy it prints the defaults, a starting point for a new policy file.

Example:
  go run ./cmd/forge policy show > policy.yaml`,
		RunE: runPolicyShow,
	}

	policyCheckCmd = &cobra.Command{
		Use:   "check [file]",
		Short: "Validate a policy file and print its hash",
		Args:  cobra.ExactArgs(1),
		RunE:  runPolicyCheck,
	}
)

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyCheckCmd)
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	p, err := policy.LoadOrDefault(policyFile)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(p)
	}
	out, err := policy.YAML(p)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	p, err := policy.Load(args[0])
	if err != nil {
		PrintError(err.Error())
		return err
	}
	hash, err := policy.Hash(p)
	if err != nil {
		return err
	}
	PrintSuccess(fmt.Sprintf("%s is valid (%s v%s)", args[0], p.Meta.Name, p.Meta.Version))
	fmt.Printf("sha256 %s\n", hash)
	return nil
}
