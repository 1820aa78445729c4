package backend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/cesargomez89/stemdeck/internal/constants"
)

const (
	wavPCMFormat = 1
	framesPerBuf = 4096
)

var (
	errNotWAV         = errors.New("not a wav file")
	errUnsupportedPCM = errors.New("unsupported wav sample format")
)

// WriteSilentWAV writes a 16-bit PCM file of the given length containing silence.
func WriteSilentWAV(path string, seconds float64, sampleRate, channels int) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, constants.FilePermissions)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(f, sampleRate, constants.BitsPerSample, channels, wavPCMFormat)
	zeros := make([]int, framesPerBuf*channels)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: constants.BitsPerSample,
	}
	// at least one write, so a zero-length file still gets its headers
	for frames := max(int(float64(sampleRate)*seconds), 0); ; {
		n := min(frames, framesPerBuf)
		buf.Data = zeros[:n*channels]
		if err := enc.Write(buf); err != nil {
			f.Close()
			return err
		}
		if frames -= n; frames == 0 {
			break
		}
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// pcmReader holds an open wav file positioned at its first sample.
type pcmReader struct {
	f    *os.File
	dec  *wav.Decoder
	size int64
}

// openPCM parses the headers of path and bounds the data chunk by the bytes
// actually present after it. Streaming encoders write 0 or 0xFFFFFFFF as the
// data size.
func openPCM(path string) (*pcmReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	dec := wav.NewDecoder(f)
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", errNotWAV, err)
	}
	if dec.PCMChunk == nil || dec.NumChans < 1 {
		f.Close()
		if err := dec.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", errNotWAV, err)
		}
		return nil, errNotWAV
	}

	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		f.Close()
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	avail := max(info.Size()-offset, 0)
	size := int64(dec.PCMSize)
	if size <= 0 || size > avail {
		size = avail
	}
	return &pcmReader{f: f, dec: dec, size: size}, nil
}

func (p *pcmReader) Close() error { return p.f.Close() }

func (p *pcmReader) byteRate() int {
	if rate := int(p.dec.SampleRate) * int(p.dec.NumChans) * int(p.dec.BitDepth) / 8; rate > 0 {
		return rate
	}
	return int(p.dec.AvgBytesPerSec)
}

// ReadMonoPCM decodes a PCM wav file, averaging channels, into samples in
// [-1, 1].
func ReadMonoPCM(path string) ([]float64, int, error) {
	p, err := openPCM(path)
	if err != nil {
		return nil, 0, err
	}
	defer p.Close()

	dec := p.dec
	if dec.WavAudioFormat != wavPCMFormat {
		return nil, 0, errUnsupportedPCM
	}
	switch dec.BitDepth {
	case 16, 24, 32:
	default:
		return nil, 0, errUnsupportedPCM
	}

	channels := int(dec.NumChans)
	scale := float64(int(1) << (dec.BitDepth - 1))
	dec.PCMChunk.R = io.LimitReader(p.f, p.size)

	buf := &audio.IntBuffer{Data: make([]int, framesPerBuf*channels)}
	out := make([]float64, 0, p.size/int64(channels*int(dec.BitDepth)/8))
	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil {
			return nil, 0, err
		}
		if n == 0 {
			break
		}
		for off := 0; off+channels <= n; off += channels {
			var sum float64
			for c := 0; c < channels; c++ {
				sum += float64(buf.Data[off+c]) / scale
			}
			out = append(out, sum/float64(channels))
		}
	}
	return out, int(dec.SampleRate), nil
}

// WAVDuration reads the playing time from a wav header without decoding samples.
func WAVDuration(path string) (time.Duration, error) {
	p, err := openPCM(path)
	if err != nil {
		return 0, err
	}
	defer p.Close()

	rate := p.byteRate()
	if rate == 0 {
		return 0, errors.New("wav header has zero byte rate")
	}
	return time.Duration(float64(p.size) / float64(rate) * float64(time.Second)), nil
}
