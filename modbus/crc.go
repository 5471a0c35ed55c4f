package modbus

// CRC16 computes the Modbus CRC-16 of data: initial value 0xFFFF,
// reflected polynomial 0xA001.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)

	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}

	return crc
}

// appendCRC appends the CRC of frame to frame, low byte first per the RTU
// wire order.
func appendCRC(frame []byte) []byte {
	crc := CRC16(frame)

	return append(frame, byte(crc), byte(crc>>8))
}

// verifyCRC reports whether frame ends with a valid CRC over the preceding
// bytes. Frames shorter than the CRC itself fail.
func verifyCRC(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}

	crc := CRC16(frame[:len(frame)-2])

	return frame[len(frame)-2] == byte(crc) && frame[len(frame)-1] == byte(crc>>8)
}
