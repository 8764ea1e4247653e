package adapter

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read [DEST.img]",
	Short: "Read image of the floppy disk",
	Long: `Read the floppy disk and save raw sector image to file DEST.img.
By default the image is saved as 'image.img'.
Sectors which cannot be read are filled with pattern 0xAA.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		// Determine output filename
		filename := "image.img"
		if len(args) > 0 {
			filename = args[0]
		}

		// Prompt user to insert diskette
		waitForDiskette("SOURCE")

		floppyAdapter, err := openAdapter()
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to open adapter: %w", err))
		}
		defer floppyAdapter.Close()

		g := floppyAdapter.Geometry()
		fmt.Printf("Reading %d tracks, %d side(s)\n", g.Tracks, g.Heads)
		fmt.Printf("\n")

		file, err := os.Create(filename)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to create file: %w", err))
		}
		w := bufio.NewWriter(file)

		bad, err := readImage(floppyAdapter, w)
		if err == nil {
			err = w.Flush()
		}
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to read floppy disk: %w", err))
		}

		fmt.Printf("\n")
		if bad > 0 {
			fmt.Printf("Warning: %d track(s) could not be read completely.\n", bad)
		}
		fmt.Printf("Image from diskette saved to file '%s'.\n", filename)
	},
}

func init() {
	rootCmd.AddCommand(readCmd)
}
