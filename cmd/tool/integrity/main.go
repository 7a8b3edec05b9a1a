package integrity

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/cobra"

	"github.com/alpacahq/colstore/catalog"
	"github.com/alpacahq/colstore/column"
	"github.com/alpacahq/colstore/utils/log"
	"github.com/alpacahq/colstore/utils/pool"
)

const (
	usage   = "integrity"
	short   = "Verify the columns of a directory"
	long    = "This command checks that every row of every column points inside its data file"
	example = "colstore tool integrity --dir <path> --parallel 4"

	// Flag descriptions.
	rootDirPathDesc = "set filesystem path of the directory containing the columns to evaluate"
	parallelDesc    = "number of columns evaluated in parallel"

	// Page sizes only affect how the files are mapped while reading.
	dataBitHint  = 16
	indexBitHint = 12
)

var (
	// Available flags.
	rootDirPath string
	parallel    int

	// Cmd is the integrity command.
	Cmd = &cobra.Command{
		Use:     usage,
		Short:   short,
		Long:    long,
		Aliases: []string{"ic", "integritycheck"},
		Example: example,
		RunE:    executeIntegrity,
	}
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	// Parse flags.
	Cmd.Flags().StringVarP(&rootDirPath, "dir", "d", "", rootDirPathDesc)
	_ = Cmd.MarkFlagRequired("dir")
	Cmd.Flags().IntVar(&parallel, "parallel", 1, parallelDesc)
}

// Result is the outcome of checking one column.
type Result struct {
	Name string
	Rows int64
	Err  error
}

func executeIntegrity(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	return Check(cmd.OutOrStdout(), rootDirPath, parallel)
}

// Check verifies every column under rootDir, writes one line per column to
// out and fails if any column is corrupt.
func Check(out io.Writer, rootDir string, parallel int) error {
	rootDir = filepath.Clean(rootDir)
	fi, err := os.Stat(rootDir)
	if err != nil {
		return fmt.Errorf("root directory: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("root directory: %s is not a directory", rootDir)
	}

	results, err := Verify(rootDir, parallel)
	if err != nil {
		return err
	}
	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", r.Name, r.Err)
			continue
		}
		fmt.Fprintf(out, "OK   %s: %d rows\n", r.Name, r.Rows)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d columns failed the integrity check", failed, len(results))
	}
	return nil
}

// Verify checks the columns under rootDir with up to parallel workers and
// returns the results sorted by column name.
func Verify(rootDir string, parallel int) ([]Result, error) {
	names, err := catalog.ScanColumns(rootDir)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results = make([]Result, 0, len(names))
	)
	p := pool.NewPool(parallel, func(name string) {
		r := verifyColumn(rootDir, name)
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})
	work := make(chan string)
	go func() {
		for _, name := range names {
			work <- name
		}
		close(work)
	}()
	p.Work(work)
	p.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results, nil
}

func verifyColumn(rootDir, name string) Result {
	c, err := column.Open(rootDir, name, dataBitHint, indexBitHint)
	if err != nil {
		return Result{Name: name, Err: err}
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Error("close column %s: %v", name, err)
		}
	}()
	log.Debug("verifying %s", name)
	return Result{Name: name, Rows: c.Size(), Err: c.Verify()}
}
