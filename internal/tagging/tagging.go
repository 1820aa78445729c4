// Package tagging reads and writes the metadata embedded in audio files.
package tagging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"

	"github.com/cesargomez89/stemdeck/internal/constants"
)

// Tags is the metadata written onto converted files.
type Tags struct {
	Title    string
	Artist   string
	Source   string
	SourceID string
}

// TagFile writes metadata tags to the audio file at filePath.
func TagFile(filePath string, tags Tags) error {
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case constants.ExtFLAC:
		return tagFLAC(filePath, tags)
	case constants.ExtMP3:
		return tagMP3(filePath, tags)
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}
}

// tagMP3 writes ID3v2.4 tags to an MP3 file.
func tagMP3(filePath string, tags Tags) error {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	if tags.Title != "" {
		tag.SetTitle(tags.Title)
	}
	if tags.Artist != "" {
		tag.SetArtist(tags.Artist)
	}
	if tags.Source != "" {
		tag.AddTextFrame(tag.CommonID("WWWAudioSource"), tag.DefaultEncoding(), tags.Source)
	}
	if tags.SourceID != "" {
		tag.AddUserDefinedTextFrame(id3v2.UserDefinedTextFrame{
			Encoding:    id3v2.EncodingUTF8,
			Description: "SOURCE_ID",
			Value:       tags.SourceID,
		})
	}

	return tag.Save()
}

// tagFLAC replaces the Vorbis comment block of a FLAC file, keeping every
// other metadata block and the audio frames as they are.
func tagFLAC(filePath string, tags Tags) error {
	f, err := flac.ParseFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to open FLAC file: %w", err)
	}

	vc := newVorbisComment(tags)
	block := vc.Marshal()

	replaced := false
	for i, meta := range f.Meta {
		if meta.Type == flac.VorbisComment {
			f.Meta[i] = &block
			replaced = true
			break
		}
	}
	if !replaced {
		f.Meta = append(f.Meta, &block)
	}

	tmp := filePath + ".tmp"
	if err := f.Save(tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write FLAC file: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace FLAC file: %w", err)
	}
	return nil
}

func newVorbisComment(tags Tags) *flacvorbis.MetaDataBlockVorbisComment {
	vc := flacvorbis.New()
	add := func(key, value string) {
		if value != "" {
			_ = vc.Add(key, value)
		}
	}
	add(flacvorbis.FIELD_TITLE, tags.Title)
	add(flacvorbis.FIELD_ARTIST, tags.Artist)
	add("SOURCE", tags.Source)
	add("SOURCE_ID", tags.SourceID)
	return vc
}
