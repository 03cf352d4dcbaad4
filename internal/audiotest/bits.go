// Package audiotest builds small, valid media files for tests: WAV through
// go-audio/wav, and FLAC, Ogg and MP3 through minimal writers.
package audiotest

// bitWriter packs values MSB first.
type bitWriter struct {
	buf   []byte
	nbits uint
}

func (w *bitWriter) write(v uint64, n uint) {
	for i := int(n) - 1; i >= 0; i-- {
		if w.nbits%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v>>uint(i)&1 == 1 {
			w.buf[len(w.buf)-1] |= 1 << (7 - w.nbits%8)
		}
		w.nbits++
	}
}

func (w *bitWriter) align() {
	w.nbits = uint(len(w.buf)) * 8
}

func (w *bitWriter) bytes() []byte { return w.buf }

// CRC8 is the FLAC frame header checksum (poly 0x07).
func CRC8(b []byte) byte {
	var crc byte
	for _, v := range b {
		crc ^= v
		for range 8 {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRC16 is the FLAC frame footer checksum (poly 0x8005).
func CRC16(b []byte) uint16 {
	var crc uint16
	for _, v := range b {
		crc ^= uint16(v) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x8005
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// OggCRC is the Ogg page checksum (poly 0x04C11DB7, not reflected).
func OggCRC(b []byte) uint32 {
	var crc uint32
	for _, v := range b {
		crc ^= uint32(v) << 24
		for range 8 {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
