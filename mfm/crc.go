package mfm

// CRC-16/CCITT as used by IBM PC floppy formats:
// polynomial 0x1021, MSB first, stored big-endian after the field.

// Update the checksum with one byte
func crc16CCITTByte(sum uint16, b byte) uint16 {
	sum ^= uint16(b) << 8
	for i := 0; i < 8; i++ {
		if sum&0x8000 != 0 {
			sum = sum<<1 ^ 0x1021
		} else {
			sum <<= 1
		}
	}
	return sum
}

// Update the checksum with a slice of bytes
func crc16CCITT(sum uint16, data []byte) uint16 {
	for _, b := range data {
		sum = crc16CCITTByte(sum, b)
	}
	return sum
}

// CRC16 computes the checksum of data starting from the given seed.
// Address marks are included: seed 0xFFFF over A1 A1 A1 FE and the
// four ID bytes yields the stored header CRC.
func CRC16(data []byte, seed uint16) uint16 {
	return crc16CCITT(seed, data)
}
