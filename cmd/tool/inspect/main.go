package inspect

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"github.com/alpacahq/colstore/catalog"
	"github.com/alpacahq/colstore/column"
)

const (
	usage   = "inspect"
	short   = "Print the columns of a directory as CSV"
	long    = "This command prints a summary of the columns matching a pattern, or their rows with --rows"
	example = "colstore tool inspect --dir <path> --columns 'AAPL_*' --rows 10"

	rootDirPathDesc = "set filesystem path of the directory containing the columns"
	columnsDesc     = "glob pattern of the columns to inspect"
	rowsDesc        = "print up to this many rows of each column instead of a summary"
	offsetDesc      = "first row printed with --rows"
	encodingDesc    = "string encoding of the columns, utf-8 or utf-16"

	dataBitHint  = 16
	indexBitHint = 12
)

var (
	rootDirPath string
	pattern     string
	rows        int64
	offset      int64
	encName     string

	// Cmd is the inspect command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Example: example,
		RunE:    executeInspect,
	}
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&rootDirPath, "dir", "d", "", rootDirPathDesc)
	_ = Cmd.MarkFlagRequired("dir")
	Cmd.Flags().StringVar(&pattern, "columns", "*", columnsDesc)
	Cmd.Flags().Int64Var(&rows, "rows", 0, rowsDesc)
	Cmd.Flags().Int64Var(&offset, "offset", 0, offsetDesc)
	Cmd.Flags().StringVar(&encName, "encoding", "utf-8", encodingDesc)
}

// Summary describes one column.
type Summary struct {
	Name       string `csv:"column"`
	Rows       int64  `csv:"rows"`
	DataBytes  int64  `csv:"data_bytes"`
	IndexBytes int64  `csv:"index_bytes"`
}

// Record is one row of a column. Values that are not valid UTF-8 once decoded
// are printed in hex.
type Record struct {
	Name   string `csv:"column"`
	Row    int64  `csv:"row"`
	Null   bool   `csv:"null"`
	Length int32  `csv:"length"`
	Value  string `csv:"value"`
}

// Options select what Inspect prints.
type Options struct {
	Pattern  string
	Rows     int64
	Offset   int64
	Encoding string
}

func executeInspect(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	return Inspect(cmd.OutOrStdout(), rootDirPath, Options{
		Pattern:  pattern,
		Rows:     rows,
		Offset:   offset,
		Encoding: encName,
	})
}

// Inspect writes a CSV summary of the columns under rootDir matching
// opts.Pattern, or up to opts.Rows of their rows when opts.Rows is positive.
func Inspect(out io.Writer, rootDir string, opts Options) error {
	if _, err := os.Stat(rootDir); err != nil {
		return fmt.Errorf("root directory: %w", err)
	}
	enc, err := column.EncodingByName(opts.Encoding)
	if err != nil {
		return err
	}
	dir, err := catalog.NewDirectory(rootDir, dataBitHint, indexBitHint, column.WithEncoding(enc))
	if err != nil {
		return err
	}
	defer dir.Close()

	names, err := dir.Names(opts.Pattern)
	if err != nil {
		return err
	}

	var (
		summaries []*Summary
		records   []*Record
	)
	for _, name := range names {
		c, release, err := dir.Acquire(name)
		if err != nil {
			return err
		}
		if opts.Rows > 0 {
			var rs []*Record
			rs, err = readRecords(c, name, opts.Offset, opts.Rows)
			records = append(records, rs...)
		} else {
			summaries = append(summaries, &Summary{
				Name:       name,
				Rows:       c.Size(),
				DataBytes:  c.DataSize(),
				IndexBytes: c.IndexRegion().Size(),
			})
		}
		release()
		if err != nil {
			return fmt.Errorf("read column %s: %w", name, err)
		}
	}

	if opts.Rows > 0 {
		return gocsv.Marshal(records, out)
	}
	return gocsv.Marshal(summaries, out)
}

func readRecords(c *column.VarColumn, name string, from, n int64) ([]*Record, error) {
	if from < 0 {
		from = 0
	}
	to := from + n
	if to > c.Size() {
		to = c.Size()
	}
	var records []*Record
	for i := from; i < to; i++ {
		length, err := c.Len(i)
		if err != nil {
			return nil, err
		}
		r := &Record{Name: name, Row: i, Length: length}
		if length == column.NullLength {
			r.Null = true
			records = append(records, r)
			continue
		}
		s, _, err := c.GetString(i)
		if err != nil {
			return nil, err
		}
		if utf8.ValidString(s) {
			r.Value = s
		} else {
			r.Value = hex.EncodeToString([]byte(s))
		}
		records = append(records, r)
	}
	return records, nil
}
