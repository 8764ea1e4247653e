package adapter

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sergev/drawbridge/config"
)

var rootCmd = &cobra.Command{
	Use:   "drawbridge",
	Short: "A CLI program which works with floppy disks via DrawBridge",
	Long:  "The drawbridge tool reads, writes and formats floppy disks through an Arduino DrawBridge serial bridge.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Initialize configuration
		err := config.Initialize()
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to initialize config: %w", err))
		}
		cobra.CheckErr(applySettings())
	},
}

// Input for the prompts
var stdin io.Reader = os.Stdin

// waitForDiskette asks the user to insert a diskette and waits for Enter
func waitForDiskette(role string) {
	fmt.Printf("Insert %s diskette in drive\nand press Enter when ready...", role)
	reader := bufio.NewReader(stdin)
	_, _ = reader.ReadString('\n')
	fmt.Printf("\n")
}

func init() {
	addSettings(rootCmd.PersistentFlags())
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
