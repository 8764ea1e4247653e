package adapter

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sergev/drawbridge/config"
	"github.com/sergev/drawbridge/drawbridge"
	"github.com/sergev/drawbridge/drive"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the bridge and the drive",
	Long:  "Check the status of the DrawBridge bridge, the floppy drive and the diskette.",
	Run: func(cmd *cobra.Command, args []string) {
		client, err := openClient()
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to open bridge: %w", err))
		}
		defer client.Close()

		printStatus(client)

		fmt.Printf("\nConfiguration script: ~/.drawbridge\n")
		fmt.Printf("Bridge profile: %s\n", config.BridgeName)
		fmt.Printf("CTS flow control: %v, reset on failure: %v\n", config.CTSFlowControl, config.ResetOnFailure)
		fmt.Printf("Calibration offset: %d tracks, %d read retries\n", config.CalibrationOffset, config.ReadRetries)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// printStatus shows the firmware details and probes the disk
func printStatus(client *drawbridge.Client) {
	version := client.FirmwareVersion()
	fmt.Printf("Port: %s\n", client.Port())
	fmt.Printf("Firmware: %s\n", version)
	if features := version.Features(); len(features) > 0 {
		fmt.Printf("Features: %s\n", strings.Join(features, ", "))
	}

	present, err := client.CheckForDisk(true)
	if !present {
		fmt.Printf("Disk: not present\n")
		if err != nil && drawbridge.ResponseOf(err) != drawbridge.RESPONSE_NO_DISK_IN_DRIVE {
			fmt.Printf("Error: %v\n", err)
		}
		return
	}
	wp, _ := client.CheckWriteProtected(false)
	fmt.Printf("Disk: present, write protected: %v\n", wp)

	hd, err := client.CheckDiskCapacity()
	if err != nil {
		fmt.Printf("Density: unknown (%v)\n", err)
	} else {
		fmt.Printf("Density: %s\n", densityName(hd))
	}
	sectors := 9
	if hd {
		sectors = 18
	}
	fmt.Printf("Geometry: %s\n", drive.NewGeometry(80, 2, sectors, hd))

	if err := client.EnableReading(true, true, false); err != nil {
		fmt.Printf("Motor: %v\n", err)
		return
	}
	rpm, err := client.MeasureRPM()
	if err != nil {
		fmt.Printf("Speed: %v\n", err)
	} else {
		fmt.Printf("Speed: %.2f RPM\n", rpm)
	}
	client.EnableReading(false, false, false)
}
