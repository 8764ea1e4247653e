package adapter

import (
	"errors"
	"fmt"
	"io"

	"github.com/sergev/drawbridge/drive"
	"github.com/sergev/drawbridge/mfm"
)

// readImage copies every sector of the disk to w in the usual raw image
// order: track, then head, then sector. Unreadable sectors are stored as
// returned by the drive. It returns the number of tracks with bad
// sectors, and fails only when w does.
func readImage(fa FloppyAdapter, w io.Writer) (int, error) {
	g := fa.Geometry()
	bad := 0
	for track := 0; track < g.Tracks; track++ {
		sides, dummy, err := fa.ReadCylinder(track)
		switch {
		case err != nil:
			fmt.Printf("Track %2d: %v\n", track, err)
			bad++
		case dummy > 0:
			fmt.Printf("Track %2d: %d bad sector(s)\n", track, dummy)
			bad++
		default:
			fmt.Printf("Track %2d: ok\n", track)
		}

		for _, side := range sides {
			for _, data := range side {
				if _, err := w.Write(data); err != nil {
					return bad, err
				}
			}
		}
	}
	return bad, nil
}

// checkImage verifies that a raw image of the given size fits the disk
// in the drive, and returns the number of tracks it holds.
func checkImage(g drive.Geometry, size int64) (int, error) {
	tracks, heads, sectors, err := mfm.DetectFormatFromSize(size)
	if err != nil {
		return 0, err
	}
	if sectors != g.SectorsPerTrack {
		return 0, fmt.Errorf("image has %d sectors per track, the disk has %d", sectors, g.SectorsPerTrack)
	}
	if heads != g.Heads {
		return 0, fmt.Errorf("image has %d side(s), the disk has %d", heads, g.Heads)
	}
	if tracks > g.Tracks {
		return 0, fmt.Errorf("image has %d tracks, the disk has %d", tracks, g.Tracks)
	}
	return tracks, nil
}

// writeImage formats the disk with the contents of a raw image
func writeImage(fa FloppyAdapter, data []byte) error {
	if fa.WriteProtected() {
		return errors.New("diskette is write protected")
	}
	g := fa.Geometry()
	tracks, err := checkImage(g, int64(len(data)))
	if err != nil {
		return err
	}

	trackSize := g.SectorsPerTrack * drive.SectorSize
	for track := 0; track < tracks; track++ {
		for head := 0; head < g.Heads; head++ {
			offset := (track*g.Heads + head) * trackSize
			sectors := make([][]byte, g.SectorsPerTrack)
			for i := range sectors {
				start := offset + i*drive.SectorSize
				sectors[i] = data[start : start+drive.SectorSize]
			}
			if err := fa.WriteTrack(track, head, sectors); err != nil {
				return err
			}
		}
		fmt.Printf("Track %2d: written\n", track)
	}
	return nil
}
