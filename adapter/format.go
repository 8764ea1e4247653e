package adapter

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sergev/drawbridge/config"
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Format the floppy disk",
	Long:  "Format the floppy disk by selecting from formats defined in the configuration script.",
	Run: func(cmd *cobra.Command, args []string) {
		formats := config.Formats
		if len(formats) == 0 {
			cobra.CheckErr(fmt.Errorf("no formats defined in configuration"))
		}

		// Display menu with tags
		fmt.Printf("Available formats for bridge %s:\n", config.BridgeName)
		for i, f := range formats {
			fmt.Printf("  %s. %s\n", indexToTag(i), f.Name)
		}
		fmt.Print("\nSelect format (default 1): ")

		// Get user selection
		reader := bufio.NewReader(stdin)
		selection, err := reader.ReadString('\n')
		if err != nil && selection == "" {
			cobra.CheckErr(fmt.Errorf("failed to read selection: %w", err))
		}
		selection = strings.TrimSpace(selection)

		// Default to first option if empty
		selectedIndex, err := tagToIndex(selection, len(formats))
		if err != nil {
			cobra.CheckErr(fmt.Errorf("invalid selection: %w", err))
		}
		selected := formats[selectedIndex]
		fmt.Printf("\nSelected: %s\n", selected.Name)

		// Prompt user to insert diskette
		fmt.Print("Insert TARGET diskette in drive\nand press Enter when ready...")
		_, _ = reader.ReadString('\n')
		fmt.Printf("\n")

		floppyAdapter, err := openAdapter()
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to open adapter: %w", err))
		}
		defer floppyAdapter.Close()

		fmt.Printf("Writing %d tracks, %d side(s)\n", selected.Tracks, selected.Heads)
		fmt.Printf("\n")

		err = formatDisk(floppyAdapter, selected)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to format floppy disk: %w", err))
		}
		fmt.Printf("\n")
		fmt.Printf("Diskette formatted as '%s'.\n", selected.Name)
	},
}

func init() {
	rootCmd.AddCommand(formatCmd)
}

// formatDisk writes every sector of the format with its fill byte
func formatDisk(fa FloppyAdapter, f config.Format) error {
	g := fa.Geometry()
	if f.HighDensity != g.HighDensity {
		return fmt.Errorf("format %s does not match the %s diskette", f.Name, densityName(g.HighDensity))
	}
	if f.Sectors != g.SectorsPerTrack || f.Heads != g.Heads || f.Tracks > g.Tracks {
		return fmt.Errorf("format %s does not fit the diskette geometry %s", f.Name, g)
	}
	image := bytes.Repeat([]byte{byte(f.Fill)}, f.Capacity())
	return writeImage(fa, image)
}

func densityName(hd bool) string {
	if hd {
		return "high density"
	}
	return "double density"
}

// indexToTag converts an index (0-based) to a tag string (1-9, a-z)
func indexToTag(index int) string {
	if index < 9 {
		return fmt.Sprintf("%d", index+1)
	}
	return string(rune('a' + index - 9))
}

// tagToIndex converts a tag string (1-9, a-z) to an index (0-based)
func tagToIndex(tag string, maxIndex int) (int, error) {
	if len(tag) == 0 {
		return 0, nil
	}

	tag = strings.ToLower(tag)
	if len(tag) != 1 {
		return -1, fmt.Errorf("tag must be a single character")
	}

	c := tag[0]
	if c >= '1' && c <= '9' {
		index := int(c - '1')
		if index >= maxIndex {
			return -1, fmt.Errorf("tag %s is out of range", tag)
		}
		return index, nil
	}

	if c >= 'a' && c <= 'z' {
		index := 9 + int(c-'a')
		if index >= maxIndex {
			return -1, fmt.Errorf("tag %s is out of range", tag)
		}
		return index, nil
	}

	return -1, fmt.Errorf("invalid tag: %s (must be 1-9 or a-z)", tag)
}
