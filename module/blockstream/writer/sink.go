package writer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/snappy"
	"github.com/hashicorp/go-multierror"
	"github.com/onflow/flow-go/crypto/hash"

	"github.com/onflow/flow-blockstream/model/stream"
)

// CompressedSuffix is appended to the names of snappy compressed block and
// sidecar files.
const CompressedSuffix = ".sz"

// fileSink is the write side of one output file. Writes go through an optional
// snappy framing layer and a buffer, and the bytes reaching the file are
// hashed on the way.
type fileSink struct {
	path       string
	file       *os.File
	hasher     hash.Hasher
	buf        *bufio.Writer
	compressor *snappy.Writer
	w          io.Writer
}

func createSink(path string, compress bool) (*fileSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	s := &fileSink{
		path:   path,
		file:   file,
		hasher: hash.NewSHA2_384(),
	}
	s.buf = bufio.NewWriter(io.MultiWriter(file, s.hasher))
	s.w = s.buf
	if compress {
		s.compressor = snappy.NewBufferedWriter(s.buf)
		s.w = s.compressor
	}
	return s, nil
}

func (s *fileSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// close flushes every layer, optionally syncs, and closes the file. It returns
// the hash of the file as stored.
func (s *fileSink) close(sync bool) (stream.HashObject, error) {
	var result *multierror.Error
	if s.compressor != nil {
		if err := s.compressor.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("could not flush compressor of %s: %w", s.path, err))
		}
	}
	if err := s.buf.Flush(); err != nil {
		result = multierror.Append(result, fmt.Errorf("could not flush %s: %w", s.path, err))
	}
	if sync && result.ErrorOrNil() == nil {
		if err := s.file.Sync(); err != nil {
			result = multierror.Append(result, fmt.Errorf("could not sync %s: %w", s.path, err))
		}
	}
	if err := s.file.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("could not close %s: %w", s.path, err))
	}
	if err := result.ErrorOrNil(); err != nil {
		return stream.HashObject{}, err
	}
	return stream.NewHashObject(stream.SHA2_384, s.hasher.SumHash()), nil
}

// fileSource opens a file written through a fileSink, decompressing it when
// its name carries CompressedSuffix.
func fileSource(path string) (io.Reader, io.Closer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	var r io.Reader = bufio.NewReader(file)
	if strings.HasSuffix(path, CompressedSuffix) {
		r = snappy.NewReader(r)
	}
	return r, file, nil
}

// hashFile returns the hash of the bytes of a file as stored.
func hashFile(path string) (stream.HashObject, error) {
	file, err := os.Open(path)
	if err != nil {
		return stream.HashObject{}, err
	}
	defer file.Close()

	hasher := hash.NewSHA2_384()
	if _, err := io.Copy(hasher, bufio.NewReader(file)); err != nil {
		return stream.HashObject{}, fmt.Errorf("could not read %s: %w", path, err)
	}
	return stream.NewHashObject(stream.SHA2_384, hasher.SumHash()), nil
}

// hashBytes is hashFile for data held in memory.
func hashBytes(data []byte) stream.HashObject {
	return stream.NewHashObject(stream.SHA2_384, hash.NewSHA2_384().ComputeHash(data))
}
