package demux

// MSB-first CRCs used by FLAC and Ogg. hash/crc32 only implements the
// reflected form, so the tables are built here.

var (
	crc8Table   [256]uint8
	crc16Table  [256]uint16
	oggCRCTable [256]uint32
)

func init() {
	for i := range 256 {
		c8 := uint8(i)
		for range 8 {
			if c8&0x80 != 0 {
				c8 = c8<<1 ^ 0x07
			} else {
				c8 <<= 1
			}
		}
		crc8Table[i] = c8

		c16 := uint16(i) << 8
		for range 8 {
			if c16&0x8000 != 0 {
				c16 = c16<<1 ^ 0x8005
			} else {
				c16 <<= 1
			}
		}
		crc16Table[i] = c16

		c32 := uint32(i) << 24
		for range 8 {
			if c32&0x80000000 != 0 {
				c32 = c32<<1 ^ 0x04C11DB7
			} else {
				c32 <<= 1
			}
		}
		oggCRCTable[i] = c32
	}
}

func crc8(b []byte) uint8 {
	var c uint8
	for _, v := range b {
		c = crc8Table[c^v]
	}
	return c
}

func crc16(b []byte) uint16 {
	var c uint16
	for _, v := range b {
		c = c<<8 ^ crc16Table[byte(c>>8)^v]
	}
	return c
}

func oggCRC(b []byte) uint32 {
	var c uint32
	for _, v := range b {
		c = c<<8 ^ oggCRCTable[byte(c>>24)^v]
	}
	return c
}
