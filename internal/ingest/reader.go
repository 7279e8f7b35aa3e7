package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/nshruti113/threatdna/internal/models"
)

var (
	// ErrEmptyInput is returned when the source has no header row
	ErrEmptyInput = errors.New("input has no header row")
	// ErrTooLarge is returned when the decompressed source exceeds the read limit
	ErrTooLarge = errors.New("input too large")
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Table is a CSV source loaded into memory
type Table struct {
	Header []string
	Rows   [][]string
}

// Len returns the number of data rows
func (t *Table) Len() int {
	return len(t.Rows)
}

// Record returns row i keyed by header name
func (t *Table) Record(i int) models.RawRecord {
	raw := make(models.RawRecord, len(t.Header))
	row := t.Rows[i]
	for j, h := range t.Header {
		if j < len(row) {
			raw[h] = row[j]
		} else {
			raw[h] = ""
		}
	}
	return raw
}

// ReadFile opens and reads a CSV file, decompressing it if needed
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input %s: %w", path, err)
	}
	defer f.Close()

	table, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read input %s: %w", path, err)
	}
	return table, nil
}

// Read loads a CSV table from r. Gzip and zstd streams are detected by their magic
// bytes and decompressed transparently.
func Read(r io.Reader) (*Table, error) {
	return ReadLimit(r, 0)
}

// ReadLimit is Read with a cap on the decompressed size. Once more than limit bytes come
// out of the decompressor it fails with ErrTooLarge. A limit <= 0 disables the cap.
func ReadLimit(r io.Reader, limit int64) (*Table, error) {
	dr, closeFn, err := decompress(r)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	if limit > 0 {
		dr = &limitReader{r: dr, n: limit, limit: limit}
	}

	cr := csv.NewReader(dr)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	table := &Table{Header: header}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV: %w", err)
		}
		if isBlank(row) {
			continue
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

func decompress(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(len(zstdMagic))

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return gz, func() { gz.Close() }, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return zr, zr.Close, nil
	default:
		return br, func() {}, nil
	}
}

// limitReader fails with ErrTooLarge instead of reporting EOF when the source holds
// more than limit bytes
type limitReader struct {
	r     io.Reader
	n     int64
	limit int64
	err   error
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	// read one byte past the limit to tell an exact fit from an overflow
	if int64(len(p)) > l.n+1 {
		p = p[:l.n+1]
	}
	n, err := l.r.Read(p)
	if int64(n) <= l.n {
		l.n -= int64(n)
		l.err = err
		return n, err
	}

	n = int(l.n)
	l.n = 0
	l.err = fmt.Errorf("%w: more than %d bytes after decompression", ErrTooLarge, l.limit)
	return n, l.err
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
