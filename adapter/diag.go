package adapter

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/drawbridge/drawbridge"
)

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Run hardware diagnostics",
	Long: `Check the wiring of the bridge and the drive.
Insert a diskette before running the test, so that the drive can spin.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, err := openClient()
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to open bridge: %w", err))
		}
		defer client.Close()

		failed := runDiagnostics(client)
		fmt.Printf("\n")
		if failed > 0 {
			cobra.CheckErr(fmt.Errorf("%d test(s) failed", failed))
		}
		fmt.Printf("All tests passed.\n")
	},
}

func init() {
	rootCmd.AddCommand(diagCmd)
}

// runDiagnostics runs every test and returns the number of failures
func runDiagnostics(client *drawbridge.Client) int {
	failed := 0
	report := func(name string, err error) {
		if err != nil {
			fmt.Printf("%-12s FAIL: %v\n", name, err)
			failed++
			return
		}
		fmt.Printf("%-12s PASS\n", name)
	}

	// TestCTS closes the port on failure, so it runs last
	if err := client.EnableReading(true, true, false); err != nil {
		report("Motor", err)
	} else {
		report("Index pulse", client.TestIndexPulse())
		report("Data pulse", client.TestDataPulse())

		rpm, err := client.MeasureRPM()
		if err == nil {
			fmt.Printf("%-12s %.2f RPM\n", "Speed", rpm)
		}
		report("Speed", err)
		client.EnableReading(false, false, false)
	}
	report("CTS", client.TestCTS())
	return failed
}
