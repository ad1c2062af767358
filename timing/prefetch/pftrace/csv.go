package pftrace

import (
	"bufio"
	"fmt"
	"os"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"github.com/tebeka/atexit"
)

// CSVWriter buffers records and writes them to a CSV file.
type CSVWriter struct {
	path string
	file *os.File
	w    *bufio.Writer

	records    []Record
	bufferSize int
	logger     logrus.FieldLogger
}

// NewCSVWriter creates a CSVWriter. The file is path + ".csv"; an empty path
// picks a unique name.
func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{
		path:       path,
		bufferSize: 1000,
		logger:     logrus.StandardLogger(),
	}
}

// WithLogger sets the logger that failed background flushes are reported to.
func (t *CSVWriter) WithLogger(logger logrus.FieldLogger) *CSVWriter {
	t.logger = logger
	return t
}

// Path returns the file the writer writes to.
func (t *CSVWriter) Path() string {
	return t.path + ".csv"
}

// Init creates the file. An existing file is never overwritten.
func (t *CSVWriter) Init() error {
	if t.path == "" {
		t.path = "pfsim_trace_" + xid.New().String()
	}

	filename := t.Path()
	if _, err := os.Stat(filename); err == nil {
		return fmt.Errorf("file %s already exists", filename)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create trace file: %w", err)
	}
	t.file = file
	t.w = bufio.NewWriter(file)

	fmt.Fprintf(t.w, "ID, Kind, Where, Addr, Delay, Accepted, Detail, Cycle\n")

	atexit.Register(func() {
		_ = t.Close()
	})

	return nil
}

// Write buffers a record.
func (t *CSVWriter) Write(r Record) {
	t.records = append(t.records, r)
	if len(t.records) < t.bufferSize {
		return
	}

	if err := t.Flush(); err != nil {
		t.logger.WithError(err).WithField("path", t.Path()).
			Error("failed to flush trace")
	}
}

// Flush writes the buffered records.
func (t *CSVWriter) Flush() error {
	if t.w == nil {
		return nil
	}

	for _, r := range t.records {
		fmt.Fprintf(t.w, "%s, %s, %s, 0x%x, %d, %t, %s, %d\n",
			r.ID,
			r.Kind,
			r.Where,
			r.Addr,
			r.Delay,
			r.Accepted,
			r.Detail,
			r.Cycle,
		)
	}

	t.records = nil

	return t.w.Flush()
}

// Close flushes and closes the file. Closing twice is a no-op.
func (t *CSVWriter) Close() error {
	if t.file == nil {
		return nil
	}

	if err := t.Flush(); err != nil {
		return err
	}

	err := t.file.Close()
	t.file = nil
	t.w = nil

	return err
}
