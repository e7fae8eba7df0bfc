package osdp

// crc16 calculates the CRC-16/AUG-CCITT checksum used by OSDP frames.
//
// Polynomial 0x1021, initial value 0x1d0f, no reflection, no final xor.
// This is the variant appendix D of the OSDP specification mandates for
// frames that negotiate CRC mode.
func crc16(data []byte) uint16 {
	var crc uint16 = 0x1d0f

	for _, b := range data {
		crc ^= uint16(b) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc = crc << 1
			}
		}
	}

	return crc
}

// checksum8 calculates the single byte checksum used by frames that have
// not negotiated CRC mode: the two's complement of the 8-bit byte sum.
func checksum8(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return -sum
}
