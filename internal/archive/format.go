// Package archive reads and writes portable batch files and manages a
// directory of them.
//
// A compressed archive is one JSON header line followed by a gzip payload
// holding the batch as JSON. The header carries a SHA-256 checksum of the
// compressed bytes. Plain archives are the batch as indented JSON.
package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nvandessel/seekwalk/internal/store"
)

// Format version constants.
const (
	FormatPlain      = 1
	FormatCompressed = 2
)

// MaxDecompressedSize is the maximum allowed size of a decompressed payload (200MB).
const MaxDecompressedSize = 200 * 1024 * 1024

// ErrChecksum is returned when the payload does not match the header checksum.
var ErrChecksum = errors.New("archive checksum mismatch")

// Header is the plain-text first line of a compressed archive.
type Header struct {
	Version    int               `json:"version"`
	CreatedAt  time.Time         `json:"created_at"`
	Checksum   string            `json:"checksum"`
	BatchID    string            `json:"batch_id"`
	RunCount   int               `json:"run_count"`
	Compressed bool              `json:"compressed"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// File is the payload of an archive.
type File struct {
	Version   int          `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	Batch     *store.Batch `json:"batch"`
}

// DetectFormat reads the first line of a file to tell plain from compressed.
func DetectFormat(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return 0, fmt.Errorf("reading first line: %w", err)
		}
		return 0, fmt.Errorf("file is empty")
	}

	firstLine := strings.TrimSpace(scanner.Text())
	if firstLine == "" {
		return 0, fmt.Errorf("first line is empty")
	}

	var header Header
	if err := json.Unmarshal([]byte(firstLine), &header); err == nil {
		if header.Version == FormatCompressed && header.Compressed {
			return FormatCompressed, nil
		}
	}

	if firstLine[0] == '{' {
		return FormatPlain, nil
	}

	return 0, fmt.Errorf("unrecognized archive format")
}

// Encode writes b to w as a compressed archive.
func Encode(w io.Writer, b *store.Batch, createdAt time.Time) error {
	if b == nil {
		return fmt.Errorf("batch is required")
	}

	payload, err := json.Marshal(File{Version: FormatCompressed, CreatedAt: createdAt, Batch: b})
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gzw.Write(payload); err != nil {
		return fmt.Errorf("compressing payload: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}

	header := Header{
		Version:    FormatCompressed,
		CreatedAt:  createdAt,
		Checksum:   checksum(compressed.Bytes()),
		BatchID:    b.ID,
		RunCount:   len(b.Runs),
		Compressed: true,
		Metadata: map[string]string{
			"status": b.Status,
			"phase":  b.Phase.String(),
		},
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	if _, err := w.Write(append(headerBytes, '\n')); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := w.Write(compressed.Bytes()); err != nil {
		return fmt.Errorf("writing compressed payload: %w", err)
	}
	return nil
}

// Decode reads a compressed archive from r and verifies its checksum.
func Decode(r io.Reader) (*Header, *store.Batch, error) {
	reader := bufio.NewReader(r)
	header, err := readHeader(reader)
	if err != nil {
		return nil, nil, err
	}

	compressedData, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("reading compressed payload: %w", err)
	}
	if actual := checksum(compressedData); actual != header.Checksum {
		return nil, nil, fmt.Errorf("%w: expected %s, got %s", ErrChecksum, header.Checksum, actual)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	decompressed, err := io.ReadAll(io.LimitReader(gzr, MaxDecompressedSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if int64(len(decompressed)) > MaxDecompressedSize {
		return nil, nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}

	var file File
	if err := json.Unmarshal(decompressed, &file); err != nil {
		return nil, nil, fmt.Errorf("parsing archive data: %w", err)
	}
	if file.Batch == nil {
		return nil, nil, fmt.Errorf("archive holds no batch")
	}
	return header, file.Batch, nil
}

func readHeader(reader *bufio.Reader) (*Header, error) {
	headerLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}

	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(headerLine), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatCompressed {
		return nil, fmt.Errorf("expected compressed format, got version %d", header.Version)
	}
	return &header, nil
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// Write saves b to path, compressed or as indented JSON.
func Write(path string, b *store.Batch, compressed bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	now := time.Now().UTC()
	if compressed {
		if err := Encode(f, b, now); err != nil {
			return err
		}
		return f.Close()
	}

	data, err := json.MarshalIndent(File{Version: FormatPlain, CreatedAt: now, Batch: b}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling archive: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	return f.Close()
}

// Read loads a batch from path in either format.
func Read(path string) (*store.Batch, error) {
	version, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	if version == FormatCompressed {
		_, b, err := Decode(f)
		return b, err
	}

	var file File
	if err := json.NewDecoder(io.LimitReader(f, MaxDecompressedSize)).Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing archive: %w", err)
	}
	if file.Batch == nil {
		return nil, fmt.Errorf("archive holds no batch")
	}
	return file.Batch, nil
}

// ReadHeader reads only the header line of a compressed archive.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	return readHeader(bufio.NewReader(f))
}

// VerifyChecksum checks a compressed archive without decompressing it.
func VerifyChecksum(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	header, err := readHeader(reader)
	if err != nil {
		return err
	}
	compressedData, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("reading compressed payload: %w", err)
	}
	if actual := checksum(compressedData); actual != header.Checksum {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksum, header.Checksum, actual)
	}
	return nil
}
