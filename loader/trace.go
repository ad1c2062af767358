// Package loader reads the memory access traces the simulator replays.
//
// A trace is a text file with one demand access per line:
//
//	<key> <addr> [R|W]
//
// key is the training key of the access, usually the PC of the load. Numbers
// are decimal or 0x-prefixed hex. The operation defaults to R. Blank lines
// and everything after a '#' are ignored. Files ending in .gz are
// decompressed on the fly.
package loader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Access is one demand access of a trace.
type Access struct {
	Key   uint64
	Addr  uint64
	Write bool
}

// Trace is an ordered list of demand accesses.
type Trace struct {
	// Name identifies the trace, typically the file it came from.
	Name     string
	Accesses []Access
}

// Len returns the number of accesses.
func (t *Trace) Len() int {
	return len(t.Accesses)
}

// Load reads a trace file. Files ending in .gz are gunzipped.
func Load(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f

	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip trace: %w", err)
		}
		defer func() { _ = gz.Close() }()

		r = gz
	}

	return Parse(r, filepath.Base(path))
}

// Parse reads a trace from r.
func Parse(r io.Reader, name string) (*Trace, error) {
	trace := &Trace{Name: name}

	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		access, err := parseAccess(fields)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, lineNo, err)
		}

		trace.Accesses = append(trace.Accesses, access)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}

	return trace, nil
}

func parseAccess(fields []string) (Access, error) {
	if len(fields) < 2 || len(fields) > 3 {
		return Access{}, fmt.Errorf("expected <key> <addr> [R|W], got %d fields", len(fields))
	}

	key, err := strconv.ParseUint(fields[0], 0, 64)
	if err != nil {
		return Access{}, fmt.Errorf("invalid key %q: %w", fields[0], err)
	}

	addr, err := strconv.ParseUint(fields[1], 0, 64)
	if err != nil {
		return Access{}, fmt.Errorf("invalid address %q: %w", fields[1], err)
	}

	access := Access{Key: key, Addr: addr}

	if len(fields) == 3 {
		switch strings.ToUpper(fields[2]) {
		case "R":
		case "W":
			access.Write = true
		default:
			return Access{}, fmt.Errorf("invalid operation %q", fields[2])
		}
	}

	return access, nil
}

// Save writes t to path in the format Load reads, gzipped when path ends in
// .gz.
func Save(path string, t *Trace) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trace file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close trace file: %w", cerr)
		}
	}()

	if !strings.HasSuffix(path, ".gz") {
		return Write(f, t)
	}

	gz := gzip.NewWriter(f)
	if err := Write(gz, t); err != nil {
		return err
	}

	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip trace: %w", err)
	}

	return nil
}

// Write writes t to w in the format Parse reads.
func Write(w io.Writer, t *Trace) error {
	bw := bufio.NewWriter(w)

	if t.Name != "" {
		if _, err := fmt.Fprintf(bw, "# %s\n", t.Name); err != nil {
			return fmt.Errorf("failed to write trace: %w", err)
		}
	}

	for _, a := range t.Accesses {
		op := "R"
		if a.Write {
			op = "W"
		}

		if _, err := fmt.Fprintf(bw, "0x%x 0x%x %s\n", a.Key, a.Addr, op); err != nil {
			return fmt.Errorf("failed to write trace: %w", err)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write trace: %w", err)
	}

	return nil
}
