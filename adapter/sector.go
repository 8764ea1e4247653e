package adapter

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sergev/drawbridge/drive"
)

var sectorCmd = &cobra.Command{
	Use:   "sector TRACK HEAD SECTOR",
	Short: "Dump one sector of the floppy disk",
	Long:  "Read one sector of the floppy disk and print it in hex. Sectors are numbered from 1.",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		addr, err := parseAddress(args)
		if err != nil {
			cobra.CheckErr(err)
		}

		floppyAdapter, err := openAdapter()
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to open adapter: %w", err))
		}
		defer floppyAdapter.Close()

		data, err := floppyAdapter.ReadSector(addr[0], addr[1], addr[2])
		if errors.Is(err, drive.ErrDummySector) {
			fmt.Printf("Warning: sector not found, showing fill pattern\n")
		} else if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to read sector: %w", err))
		}
		fmt.Printf("Track %d, head %d, sector %d:\n", addr[0], addr[1], addr[2])
		fmt.Print(hex.Dump(data))
	},
}

func init() {
	rootCmd.AddCommand(sectorCmd)
}

// parseAddress converts track, head and sector arguments to numbers
func parseAddress(args []string) ([3]int, error) {
	var addr [3]int
	names := [3]string{"track", "head", "sector"}
	for i, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 {
			return addr, fmt.Errorf("invalid %s: %q", names[i], arg)
		}
		addr[i] = n
	}
	if addr[2] == 0 {
		return addr, errors.New("sectors are numbered from 1")
	}
	return addr, nil
}
