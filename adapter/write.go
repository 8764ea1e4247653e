package adapter

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var writeCmd = &cobra.Command{
	Use:   "write SRC.img",
	Short: "Write image to the floppy disk",
	Long: `Write raw sector image from SRC.img to the floppy disk.
The layout of the image is detected from its size,
and must match the density of the diskette.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		// Determine input filename
		filename := args[0]

		// Read file
		data, err := os.ReadFile(filename)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to read file: %w", err))
		}

		// Prompt user to insert diskette
		waitForDiskette("TARGET")

		floppyAdapter, err := openAdapter()
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to open adapter: %w", err))
		}
		defer floppyAdapter.Close()

		g := floppyAdapter.Geometry()
		fmt.Printf("Writing %d tracks, %d side(s)\n", g.Tracks, g.Heads)
		fmt.Printf("\n")

		err = writeImage(floppyAdapter, data)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to write floppy disk: %w", err))
		}
		fmt.Printf("\n")
		fmt.Printf("Image from file '%s' written to diskette.\n", filename)
	},
}

func init() {
	rootCmd.AddCommand(writeCmd)
}
