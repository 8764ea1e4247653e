package mfm

import (
	"fmt"
)

const (
	sectorSize = 512 // sector size in bytes
)

// Detect floppy format from file size
// Return: cylinders, sides, sectorsPerTrack
func DetectFormatFromSize(fileSize int64) (cylinders, sides, sectorsPerTrack int, err error) {
	// File size must be divisible by sector size
	if fileSize%sectorSize != 0 {
		return 0, 0, 0, fmt.Errorf("file size %d is not divisible by sector size %d", fileSize, sectorSize)
	}

	totalSectors := int(fileSize / sectorSize)

	// Try common floppy format combinations
	commonFormats := []struct {
		cylinders       int
		sides           int
		sectorsPerTrack int
		totalSectors    int
	}{
		{80, 2, 18, 2880}, // 1.44MB
		{80, 2, 9, 1440},  // 720KB
		{40, 2, 9, 720},   // 360KB
		{80, 2, 15, 2400}, // 1.2MB
	}

	for _, format := range commonFormats {
		if totalSectors == format.totalSectors {
			return format.cylinders, format.sides, format.sectorsPerTrack, nil
		}
	}

	// If no match, try to factor total sectors
	// Try common side counts (2 or 1)
	for sides := 2; sides > 0; sides-- {
		if totalSectors%sides != 0 {
			continue
		}
		sectorsPerSide := totalSectors / sides

		// Try common cylinder counts
		for cylinders := 80; cylinders >= 40; cylinders -= 40 {
			if sectorsPerSide%cylinders == 0 {
				sectorsPerTrack := sectorsPerSide / cylinders
				if sectorsPerTrack >= 8 && sectorsPerTrack <= 18 {
					return cylinders, sides, sectorsPerTrack, nil
				}
			}
		}
	}

	return 0, 0, 0, fmt.Errorf("unknown floppy image format %d sectors", totalSectors)
}
