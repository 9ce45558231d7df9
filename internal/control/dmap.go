package control

import (
	"encoding/binary"
	"fmt"
)

// DMAP ("Digital Media Access Protocol") tags used on the now-playing and
// scrub metadata paths. These four-character codes are the standard
// DAAP/DACP vocabulary (not specific to any one implementation); this
// encoder is not grounded in a retrieved reference file, only in the
// general tag-length-value convention: four ASCII bytes, a four-byte
// big-endian length, then the value.
const (
	tagListingItem = "mlit" // container: one now-playing item
	tagItemName    = "minm" // track title, UTF-8 string
	tagArtist      = "asar" // artist, UTF-8 string
	tagAlbum       = "asal" // album, UTF-8 string
	tagGenre       = "asgn" // genre, UTF-8 string
	tagTrackNumber = "astn" // track number, uint16
	tagDiscNumber  = "asdn" // disc number, uint16
	tagSongTime    = "astm" // duration in milliseconds, uint32
)

type dmapWriter struct {
	buf []byte
}

func (w *dmapWriter) writeString(tag, value string) {
	w.writeRaw(tag, []byte(value))
}

func (w *dmapWriter) writeUint16(tag string, value uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], value)
	w.writeRaw(tag, b[:])
}

func (w *dmapWriter) writeUint32(tag string, value uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], value)
	w.writeRaw(tag, b[:])
}

func (w *dmapWriter) writeRaw(tag string, value []byte) {
	var header [8]byte
	copy(header[:4], tag)
	binary.BigEndian.PutUint32(header[4:], uint32(len(value)))
	w.buf = append(w.buf, header[:]...)
	w.buf = append(w.buf, value...)
}

// writeContainer wraps the bytes produced by fill in a length-prefixed
// container tag, as DMAP nests composite records.
func (w *dmapWriter) writeContainer(tag string, fill func(*dmapWriter)) {
	inner := &dmapWriter{}
	fill(inner)
	w.writeRaw(tag, inner.buf)
}

// EncodeDMAP renders a track's metadata as an "application/x-dmap-tagged"
// body describing the current now-playing item.
func (t TrackInfo) EncodeDMAP() []byte {
	w := &dmapWriter{}
	w.writeContainer(tagListingItem, func(inner *dmapWriter) {
		if t.Title != "" {
			inner.writeString(tagItemName, t.Title)
		}
		if t.Artist != "" {
			inner.writeString(tagArtist, t.Artist)
		}
		if t.Album != "" {
			inner.writeString(tagAlbum, t.Album)
		}
		if t.Genre != "" {
			inner.writeString(tagGenre, t.Genre)
		}
		if t.TrackNumber > 0 {
			inner.writeUint16(tagTrackNumber, uint16(t.TrackNumber))
		}
		if t.DiscNumber > 0 {
			inner.writeUint16(tagDiscNumber, uint16(t.DiscNumber))
		}
		if t.DurationSecs > 0 {
			inner.writeUint32(tagSongTime, uint32(t.DurationSecs*1000))
		}
	})
	return w.buf
}

// DmapProgress is the scrub position sent via SET_PARAMETER
// text/parameters as three RTP timestamps: where the track's clock
// started, where playback currently sits, and where it ends.
type DmapProgress struct {
	BaseRTP    uint32
	CurrentRTP uint32
	EndRTP     uint32
}

// NewDmapProgress builds a DmapProgress from a track's base RTP timestamp
// and its current and end timestamps, both derived from the same base.
func NewDmapProgress(baseRTP, current, end uint32) DmapProgress {
	return DmapProgress{BaseRTP: baseRTP, CurrentRTP: current, EndRTP: end}
}

// Encode renders the progress as the legacy text/parameters body AirPlay
// expects for DACP scrub updates: "progress: start/current/end\r\n".
func (p DmapProgress) Encode() []byte {
	return []byte(fmt.Sprintf("progress: %d/%d/%d\r\n", p.BaseRTP, p.CurrentRTP, p.EndRTP))
}
