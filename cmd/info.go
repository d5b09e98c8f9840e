package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/dglocal/dglocal/config"
	"github.com/dglocal/dglocal/element"
	"github.com/dglocal/dglocal/kernel"
	"github.com/dglocal/dglocal/plan"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print reference element, operator matrix and execution plan facts",
	Long: `info builds the reference element for the configured kind and
polynomial order, prints its node and matrix shapes, and shows the lift
execution plan the planner picks for the configured device limits.`,
	Run: func(cmd *cobra.Command, args []string) {
		params := loadParameters(cmd)

		if doProfile, _ := cmd.Flags().GetBool("profile"); doProfile {
			defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
		}

		if err := runInfo(cmd, params); err != nil {
			fmt.Printf("error: %s\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().StringP("inputFile", "I", "", "YAML parameters file")
	infoCmd.Flags().StringP("kind", "k", "", "element kind: interval, triangle, tetrahedron")
	infoCmd.Flags().IntP("order", "N", 0, "polynomial order")
	infoCmd.Flags().Bool("dumpKernel", false, "print the generated lift kernel source")
	infoCmd.Flags().Bool("profile", false, "write a CPU profile for this run")
}

func loadParameters(cmd *cobra.Command) config.Parameters {
	params := config.Defaults()
	if inputFile, _ := cmd.Flags().GetString("inputFile"); inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			fmt.Printf("error: %s\n", err)
			os.Exit(1)
		}
		if err := params.Parse(data); err != nil {
			fmt.Printf("error: %s\n", err)
			os.Exit(1)
		}
	}
	if kind, _ := cmd.Flags().GetString("kind"); kind != "" {
		params.ElementKind = kind
	}
	if order, _ := cmd.Flags().GetInt("order"); order > 0 {
		params.PolynomialOrder = order
	}
	return params
}

func runInfo(cmd *cobra.Command, params config.Parameters) error {
	kind, err := params.Kind()
	if err != nil {
		return err
	}
	floatType, err := params.FloatType()
	if err != nil {
		return err
	}

	params.Print()

	re, err := element.New(kind, params.PolynomialOrder)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s, order %d\n", kind, re.Order)
	fmt.Printf("  %d volume nodes, %d nodes per face, %d faces\n",
		re.NodeCount(), re.FaceNodeCount(), kind.FaceCount())
	printMatrix := func(name string, m *mat.Dense) {
		r, c := m.Dims()
		fmt.Printf("  %-14s %3dx%-3d  |.|_F = %.6g\n", name, r, c, mat.Norm(m, 2))
	}
	printMatrix("Vandermonde", re.Vandermonde())
	printMatrix("Mass", re.Mass())
	for d, diff := range re.DiffMatrices() {
		printMatrix(fmt.Sprintf("Diff[%d]", d), diff)
	}
	printMatrix("FaceMass", re.FaceMass())
	printMatrix("Lifting", re.Lifting())
	fmt.Printf("  dt factor (non-geometric): %.6g\n", re.DtNonGeometricFactor())

	given := plan.NewGiven(re, floatType, params.DeviceData())
	lp, err := plan.MakeLiftPlan(given)
	if err != nil {
		return err
	}
	fmt.Printf("\nmicroblock: %d elements, %d aligned floats\n",
		given.Microblock.Elements, given.Microblock.AlignedFloats)
	fmt.Println(lp)

	if dump, _ := cmd.Flags().GetBool("dumpKernel"); dump {
		fmt.Println()
		switch lp.Strategy {
		case plan.StrategyChunked:
			fmt.Print(kernel.GenerateChunkedLift(lp, true))
		case plan.StrategySharedStage:
			fmt.Print(kernel.GenerateSharedStageLift(lp, re.Lifting(), true))
		}
	}
	return nil
}
