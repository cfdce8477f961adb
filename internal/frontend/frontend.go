// Package frontend provides the baseband sample sources consumed by the
// acquisition and tracking engines. Samples are complex pairs of IEEE
// big-endian 64-bit floats stored in two co-located files, one for the
// real component and one for the imaginary component.
package frontend

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// ErrInputUnavailable wraps failures to open or position a sample stream.
var ErrInputUnavailable = errors.New("frontend: input unavailable")

const sampleBytes = 8

// Source is a finite, seekable stream of complex baseband samples.
// Seek is absolute and used once per channel; reads are sequential.
type Source interface {
	// ReadBlock fills dst and returns the number of samples read.
	// A short count with io.EOF marks the end of the stream.
	ReadBlock(dst []complex128) (int, error)
	Seek(sampleOffset int64) error
	Close() error
}

// FileSource reads the real/imaginary component files in lockstep.
type FileSource struct {
	re, im *os.File
	br, bi *bufio.Reader
	rbuf   []byte
	ibuf   []byte
}

// OpenFile opens the component streams for one channel. Each channel
// opens its own FileSource so cursors never interact.
func OpenFile(realPath, imagPath string) (*FileSource, error) {
	re, err := os.Open(realPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputUnavailable, err)
	}
	im, err := os.Open(imagPath)
	if err != nil {
		re.Close()
		return nil, fmt.Errorf("%w: %v", ErrInputUnavailable, err)
	}
	return &FileSource{
		re: re,
		im: im,
		br: bufio.NewReaderSize(re, 1<<16),
		bi: bufio.NewReaderSize(im, 1<<16),
	}, nil
}

// ReadBlock implements Source. When the two component files disagree in
// length the shorter one bounds the stream.
func (s *FileSource) ReadBlock(dst []complex128) (int, error) {
	want := len(dst) * sampleBytes
	if cap(s.rbuf) < want {
		s.rbuf = make([]byte, want)
		s.ibuf = make([]byte, want)
	}
	nr, errR := io.ReadFull(s.br, s.rbuf[:want])
	ni, errI := io.ReadFull(s.bi, s.ibuf[:want])

	n := nr
	if ni < n {
		n = ni
	}
	n /= sampleBytes
	for i := 0; i < n; i++ {
		re := math.Float64frombits(binary.BigEndian.Uint64(s.rbuf[i*sampleBytes:]))
		im := math.Float64frombits(binary.BigEndian.Uint64(s.ibuf[i*sampleBytes:]))
		dst[i] = complex(re, im)
	}
	if errR != nil || errI != nil {
		err := errR
		if err == nil {
			err = errI
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return n, err
	}
	return n, nil
}

// Seek positions both component streams at an absolute sample offset.
func (s *FileSource) Seek(sampleOffset int64) error {
	off := sampleOffset * sampleBytes
	if _, err := s.re.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %v", ErrInputUnavailable, err)
	}
	if _, err := s.im.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %v", ErrInputUnavailable, err)
	}
	s.br.Reset(s.re)
	s.bi.Reset(s.im)
	return nil
}

// Close releases both component file handles.
func (s *FileSource) Close() error {
	errR := s.re.Close()
	errI := s.im.Close()
	if errR != nil {
		return errR
	}
	return errI
}

// MemorySource serves a slice of samples. Used for synthetic streams.
type MemorySource struct {
	samples []complex128
	pos     int
}

// NewMemorySource wraps samples without copying.
func NewMemorySource(samples []complex128) *MemorySource {
	return &MemorySource{samples: samples}
}

// ReadBlock implements Source.
func (s *MemorySource) ReadBlock(dst []complex128) (int, error) {
	n := copy(dst, s.samples[s.pos:])
	s.pos += n
	if n < len(dst) {
		return n, io.EOF
	}
	return n, nil
}

// Seek implements Source.
func (s *MemorySource) Seek(sampleOffset int64) error {
	if sampleOffset < 0 || sampleOffset > int64(len(s.samples)) {
		return fmt.Errorf("%w: seek to %d outside stream", ErrInputUnavailable, sampleOffset)
	}
	s.pos = int(sampleOffset)
	return nil
}

// Close implements Source.
func (s *MemorySource) Close() error { return nil }
