package tagging

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"

	"github.com/cesargomez89/stemdeck/internal/constants"
)

// Info is what the embedded tags say about a file. Zero fields are unknown.
type Info struct {
	Title    string
	Artist   string
	Duration time.Duration
}

// Read returns the tags of an MP3 or FLAC file.
func Read(filePath string) (*Info, error) {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case constants.ExtFLAC:
		return ReadFLAC(filePath)
	case constants.ExtMP3:
		return ReadMP3(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", filepath.Ext(filePath))
	}
}

// ReadMP3 reads the title, artist and TLEN frames of an ID3v2 tag.
func ReadMP3(filePath string) (*Info, error) {
	tag, err := id3v2.Open(filePath, id3v2.Options{
		Parse:       true,
		ParseFrames: []string{"Title", "Artist", "Length"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	info := &Info{Title: tag.Title(), Artist: tag.Artist()}
	if tlen := strings.TrimSpace(tag.GetTextFrame(tag.CommonID("Length")).Text); tlen != "" {
		if ms, err := strconv.ParseInt(tlen, 10, 64); err == nil && ms > 0 {
			info.Duration = time.Duration(ms) * time.Millisecond
		}
	}
	return info, nil
}

// ReadFLAC reads StreamInfo and the Vorbis comment without loading audio frames.
func ReadFLAC(filePath string) (*Info, error) {
	fh, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	f, err := flac.ParseMetadata(fh)
	if err != nil {
		return nil, fmt.Errorf("failed to parse FLAC metadata: %w", err)
	}

	info := &Info{}
	si, err := f.GetStreamInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to read FLAC stream info: %w", err)
	}
	if si.SampleRate > 0 && si.SampleCount > 0 {
		info.Duration = time.Duration(float64(si.SampleCount) / float64(si.SampleRate) * float64(time.Second))
	}

	for _, meta := range f.Meta {
		if meta.Type != flac.VorbisComment {
			continue
		}
		vc, err := flacvorbis.ParseFromMetaDataBlock(*meta)
		if err != nil {
			return info, nil
		}
		info.Title = first(vc, flacvorbis.FIELD_TITLE)
		info.Artist = first(vc, flacvorbis.FIELD_ARTIST)
		break
	}
	return info, nil
}

func first(vc *flacvorbis.MetaDataBlockVorbisComment, key string) string {
	values, err := vc.Get(key)
	if err != nil || len(values) == 0 {
		return ""
	}
	return values[0]
}
