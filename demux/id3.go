package demux

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/linuxmatters/audiopump/media"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

const (
	id3v2HeaderSize = 10
	id3v1Size       = 128
)

// id3v2Size returns the full size of the ID3v2 tag starting b, including
// the header and an optional footer.
func id3v2Size(b []byte) (int64, bool) {
	if len(b) < id3v2HeaderSize || !hasPrefix(b, "ID3") || b[3] == 0xFF || b[4] == 0xFF {
		return 0, false
	}
	size, ok := syncsafe(b[6:10])
	if !ok {
		return 0, false
	}
	size += id3v2HeaderSize
	if b[5]&0x10 != 0 {
		size += id3v2HeaderSize
	}
	return int64(size), true
}

func syncsafe(b []byte) (int, bool) {
	n := 0
	for _, v := range b {
		if v&0x80 != 0 {
			return 0, false
		}
		n = n<<7 | int(v)
	}
	return n, true
}

// readID3v2 reads an ID3v2 tag at the current offset of r. It returns the
// tag size, or 0 with r rewound when there is no tag.
func readID3v2(r io.ReadSeeker) (media.Tags, int64, error) {
	var tags media.Tags
	start, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return tags, 0, err
	}
	head := make([]byte, id3v2HeaderSize)
	n, err := io.ReadFull(r, head)
	size, ok := id3v2Size(head[:n])
	if !ok {
		_, serr := r.Seek(start, io.SeekStart)
		return tags, 0, serr
	}
	if err != nil {
		return tags, 0, err
	}
	body := make([]byte, size-id3v2HeaderSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return tags, 0, fmt.Errorf("failed to read ID3v2 tag: %w", err)
	}
	if head[5]&0x10 != 0 {
		body = body[:len(body)-id3v2HeaderSize]
	}
	tags = parseID3v2(head[3], head[5], body)
	return tags, size, nil
}

// parseID3v2 decodes the text frames of a tag body. Unknown and binary
// frames are skipped.
func parseID3v2(version, flags byte, body []byte) media.Tags {
	var tags media.Tags
	if version < 2 || version > 4 {
		return tags
	}
	if flags&0x80 != 0 && version < 4 {
		body = bytes.ReplaceAll(body, []byte{0xFF, 0x00}, []byte{0xFF})
	}
	if flags&0x40 != 0 && version >= 3 && len(body) >= 4 {
		var ext int
		if version == 4 {
			ext, _ = syncsafe(body[:4])
		} else {
			ext = int(binary.BigEndian.Uint32(body)) + 4
		}
		if ext > len(body) {
			return tags
		}
		body = body[ext:]
	}

	idLen, hdrLen := 4, 10
	if version == 2 {
		idLen, hdrLen = 3, 6
	}
	for len(body) >= hdrLen && body[0] != 0 {
		id := string(body[:idLen])
		var size int
		switch version {
		case 2:
			size = int(body[3])<<16 | int(body[4])<<8 | int(body[5])
		case 3:
			size = int(binary.BigEndian.Uint32(body[4:]))
		case 4:
			var ok bool
			if size, ok = syncsafe(body[4:8]); !ok {
				return tags
			}
		}
		if size < 0 || hdrLen+size > len(body) {
			break
		}
		data := body[hdrLen : hdrLen+size]
		var frameFlags uint16
		if version > 2 {
			frameFlags = binary.BigEndian.Uint16(body[8:])
		}
		body = body[hdrLen+size:]

		// Compressed or encrypted frames are not text we can read.
		if version == 3 && frameFlags&0x00C0 != 0 || version == 4 && frameFlags&0x000C != 0 {
			continue
		}
		if version == 4 && frameFlags&0x0001 != 0 && len(data) >= 4 {
			data = data[4:]
		}
		if version == 4 && frameFlags&0x0002 != 0 {
			data = bytes.ReplaceAll(data, []byte{0xFF, 0x00}, []byte{0xFF})
		}
		addID3Frame(&tags, id, data)
	}
	return tags
}

func addID3Frame(tags *media.Tags, id string, data []byte) {
	if len(data) < 1 {
		return
	}
	enc, data := data[0], data[1:]
	switch {
	case id == "TXXX" || id == "TXX":
		desc, value := splitTerminated(enc, data)
		if v := decodeID3Text(enc, value); v != "" {
			tags.Add(decodeID3Text(enc, desc), v)
		}
	case id == "COMM" || id == "COM":
		if len(data) < 3 {
			return
		}
		desc, value := splitTerminated(enc, data[3:])
		key := "comment"
		if d := decodeID3Text(enc, desc); d != "" {
			key = "comment:" + d
		}
		if v := decodeID3Text(enc, value); v != "" {
			tags.Add(key, v)
		}
	case id[0] == 'T':
		key, ok := id3Keys[id]
		if !ok {
			key = id
		}
		value := decodeID3Text(enc, data)
		if key == "genre" {
			value = id3Genre(value)
		}
		for _, v := range strings.Split(value, "\x00") {
			if v != "" {
				tags.Add(key, v)
			}
		}
	}
}

// splitTerminated splits b at the first string terminator of the given
// text encoding.
func splitTerminated(enc byte, b []byte) ([]byte, []byte) {
	if enc == 1 || enc == 2 {
		for i := 0; i+1 < len(b); i += 2 {
			if b[i] == 0 && b[i+1] == 0 {
				return b[:i], b[i+2:]
			}
		}
		return b, nil
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i], b[i+1:]
	}
	return b, nil
}

func id3Decoder(enc byte) *encoding.Decoder {
	switch enc {
	case 0:
		return charmap.ISO8859_1.NewDecoder()
	case 1:
		return unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
	case 2:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	}
	return nil
}

// decodeID3Text converts ID3 text to UTF-8. Embedded terminators separate
// multiple values and are kept as NUL.
func decodeID3Text(enc byte, b []byte) string {
	var s string
	if dec := id3Decoder(enc); dec != nil {
		out, err := dec.Bytes(b)
		if err != nil {
			return ""
		}
		s = string(out)
	} else {
		s = string(b)
	}
	s = strings.TrimRight(s, "\x00")
	// Each UTF-16 value after a terminator carries its own BOM.
	return strings.ReplaceAll(s, "\x00\ufeff", "\x00")
}

// id3Genre resolves "(17)" and "17" style references to ID3v1 genres.
func id3Genre(v string) string {
	ref := v
	if strings.HasPrefix(ref, "(") {
		if i := strings.IndexByte(ref, ')'); i > 0 {
			if rest := ref[i+1:]; rest != "" {
				return rest
			}
			ref = ref[1:i]
		}
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 0 && n < len(id3v1Genres) {
		return id3v1Genres[n]
	}
	return v
}

// readID3v1 reads a 128-byte trailer ending at end. It returns the tag
// and true when present.
func readID3v1(r io.ReadSeeker, end int64) (media.Tags, bool) {
	var tags media.Tags
	if end < id3v1Size {
		return tags, false
	}
	if _, err := r.Seek(end-id3v1Size, io.SeekStart); err != nil {
		return tags, false
	}
	b := make([]byte, id3v1Size)
	if _, err := io.ReadFull(r, b); err != nil || !hasPrefix(b, "TAG") {
		return tags, false
	}

	add := func(key string, f []byte) {
		f, _ = splitTerminated(0, f)
		s, err := charmap.ISO8859_1.NewDecoder().Bytes(f)
		if err != nil {
			return
		}
		if v := strings.TrimSpace(string(s)); v != "" {
			tags.Add(key, v)
		}
	}
	add("title", b[3:33])
	add("artist", b[33:63])
	add("album", b[63:93])
	add("date", b[93:97])
	comment := b[97:127]
	if comment[28] == 0 && comment[29] != 0 {
		add("comment", comment[:28])
		tags.Add("track", strconv.Itoa(int(comment[29])))
	} else {
		add("comment", comment)
	}
	if g := int(b[127]); g < len(id3v1Genres) {
		tags.Add("genre", id3v1Genres[g])
	}
	return tags, true
}

// mergeMissing adds entries of extra whose keys are absent from tags.
func mergeMissing(tags *media.Tags, extra media.Tags) {
	for k, v := range extra.All() {
		if _, ok := tags.Get(k); !ok {
			tags.Add(k, v)
		}
	}
}

var id3v1Genres = []string{
	"Blues", "Classic Rock", "Country", "Dance", "Disco", "Funk", "Grunge",
	"Hip-Hop", "Jazz", "Metal", "New Age", "Oldies", "Other", "Pop", "R&B",
	"Rap", "Reggae", "Rock", "Techno", "Industrial", "Alternative", "Ska",
	"Death Metal", "Pranks", "Soundtrack", "Euro-Techno", "Ambient",
	"Trip-Hop", "Vocal", "Jazz+Funk", "Fusion", "Trance", "Classical",
	"Instrumental", "Acid", "House", "Game", "Sound Clip", "Gospel", "Noise",
	"AlternRock", "Bass", "Soul", "Punk", "Space", "Meditative",
	"Instrumental Pop", "Instrumental Rock", "Ethnic", "Gothic", "Darkwave",
	"Techno-Industrial", "Electronic", "Pop-Folk", "Eurodance", "Dream",
	"Southern Rock", "Comedy", "Cult", "Gangsta", "Top 40", "Christian Rap",
	"Pop/Funk", "Jungle", "Native American", "Cabaret", "New Wave",
	"Psychedelic", "Rave", "Showtunes", "Trailer", "Lo-Fi", "Tribal",
	"Acid Punk", "Acid Jazz", "Polka", "Retro", "Musical", "Rock & Roll",
	"Hard Rock",
}
