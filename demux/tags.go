package demux

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/go-audio/wav"
	"github.com/linuxmatters/audiopump/media"
	"github.com/mewkiz/flac/meta"
)

// id3Keys maps ID3v2 frame IDs (v2.2 three-letter and v2.3/v2.4
// four-letter) to common tag names.
var id3Keys = map[string]string{
	"TIT2": "title", "TT2": "title",
	"TPE1": "artist", "TP1": "artist",
	"TALB": "album", "TAL": "album",
	"TRCK": "track", "TRK": "track",
	"TCON": "genre", "TCO": "genre",
	"TYER": "date", "TYE": "date", "TDRC": "date",
	"COMM": "comment", "COM": "comment",
	"TPE2": "album_artist", "TP2": "album_artist",
	"TCOM": "composer", "TCM": "composer",
	"TPOS": "disc", "TPA": "disc",
	"TSSE": "encoder", "TSS": "encoder",
	"TCOP": "copyright", "TCR": "copyright",
	"TPUB": "publisher", "TPB": "publisher",
	"TLAN": "language", "TLA": "language",
	"TENC": "encoded_by", "TEN": "encoded_by",
}

// vorbisKeys maps Vorbis comment field names, already lowercased.
var vorbisKeys = map[string]string{
	"tracknumber": "track",
	"discnumber":  "disc",
	"albumartist": "album_artist",
	"description": "comment",
}

func vorbisKey(name string) string {
	k := media.NormalizeKey(name)
	if mapped, ok := vorbisKeys[k]; ok {
		return mapped
	}
	return k
}

// parseVorbisComment decodes a Vorbis comment body (vendor string, then
// length-prefixed "NAME=value" fields) by presenting it to the FLAC
// metadata parser as a VORBIS_COMMENT block.
func parseVorbisComment(body []byte) (media.Tags, string, error) {
	var tags media.Tags
	if len(body) >= 1<<24 {
		return tags, "", fmt.Errorf("comment header of %d bytes is too large", len(body))
	}
	block := make([]byte, 4, 4+len(body))
	block[0] = byte(meta.TypeVorbisComment) | 0x80
	block[1], block[2], block[3] = byte(len(body)>>16), byte(len(body)>>8), byte(len(body))
	block = append(block, body...)

	blk, err := meta.Parse(bytes.NewReader(block))
	if err != nil {
		return tags, "", fmt.Errorf("failed to parse comment header: %w", err)
	}
	vc, ok := blk.Body.(*meta.VorbisComment)
	if !ok {
		return tags, "", errors.New("comment header did not parse as a Vorbis comment")
	}
	for _, kv := range vc.Tags {
		tags.Add(vorbisKey(kv[0]), kv[1])
	}
	return tags, vc.Vendor, nil
}

// riffInfoTags converts the LIST/INFO entries read by go-audio/wav.
func riffInfoTags(md *wav.Metadata) media.Tags {
	var tags media.Tags
	if md == nil {
		return tags
	}
	fields := []struct {
		key, val string
	}{
		{"title", md.Title},
		{"artist", md.Artist},
		{"album", md.Product},
		{"track", md.TrackNbr},
		{"date", md.CreationDate},
		{"genre", md.Genre},
		{"comment", md.Comments},
		{"copyright", md.Copyright},
		{"encoder", md.Software},
		{"engineer", md.Engineer},
		{"technician", md.Technician},
		{"subject", md.Subject},
		{"keywords", md.Keywords},
		{"medium", md.Medium},
		{"source", md.Source},
		{"location", md.Location},
	}
	for _, f := range fields {
		if v := strings.TrimSpace(f.val); v != "" {
			tags.Add(f.key, v)
		}
	}
	return tags
}
