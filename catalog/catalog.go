package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"go.uber.org/multierr"

	"github.com/alpacahq/colstore/column"
	"github.com/alpacahq/colstore/metrics"
	"github.com/alpacahq/colstore/utils/log"
)

// Directory holds every column stored under a root directory. Each column is
// a pair of files, <name>.d and <name>.i, directly under the root.
//
// A column has a single writer: callers take it with Acquire and give it back
// with the returned release func, which serialises writers, replication and
// readers of the same column.
type Directory struct {
	sync.RWMutex

	// rootPath is the absolute directory the columns are stored in. e.g. "/project/colstore/data"
	rootPath     string
	dataBitHint  int
	indexBitHint int
	opts         []column.Option

	// columns[Key]: Key is the column name
	columns map[string]*entry
}

type entry struct {
	sync.Mutex
	c *column.VarColumn
}

// NewDirectory opens every column found under rootPath, which is created if
// missing. Files missing their pair are logged and ignored.
func NewDirectory(rootPath string, dataBitHint, indexBitHint int, opts ...column.Option) (*Directory, error) {
	d := &Directory{
		rootPath:     filepath.Clean(rootPath),
		dataBitHint:  dataBitHint,
		indexBitHint: indexBitHint,
		opts:         opts,
		columns:      map[string]*entry{},
	}
	const ownerGroupAll = 0o770
	if err := os.MkdirAll(d.rootPath, ownerGroupAll); err != nil {
		return nil, fmt.Errorf("create root directory %s: %w", d.rootPath, err)
	}
	if err := d.load(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Directory) load() error {
	names, err := ScanColumns(d.rootPath)
	if err != nil {
		return err
	}
	for _, name := range names {
		c, err := column.Open(d.rootPath, name, d.dataBitHint, d.indexBitHint, d.opts...)
		if err != nil {
			return fmt.Errorf("open column %s: %w", name, err)
		}
		d.columns[name] = &entry{c: c}
	}
	metrics.ColumnsOpen.Set(float64(len(d.columns)))
	log.Info("opened %d columns under %s", len(d.columns), d.rootPath)
	return nil
}

// ScanColumns returns the sorted names of the columns stored under rootPath.
// A data file without its index file, or the reverse, is logged and skipped.
func ScanColumns(rootPath string) ([]string, error) {
	dirList, err := os.ReadDir(rootPath)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", rootPath, err)
	}
	files := map[string]bool{}
	for _, f := range dirList {
		if !f.IsDir() {
			files[f.Name()] = true
		}
	}

	var names []string
	for file := range files {
		switch filepath.Ext(file) {
		case column.DataFileSuffix:
			name := strings.TrimSuffix(file, column.DataFileSuffix)
			if !files[name+column.IndexFileSuffix] {
				err := ErrColumnFileNotFound{filePath: filepath.Join(rootPath, name+column.IndexFileSuffix), msg: "no such file"}
				log.Warn("index file not found for a data file. %s will be ignored:%v", name, err)
				continue
			}
			names = append(names, name)
		case column.IndexFileSuffix:
			if name := strings.TrimSuffix(file, column.IndexFileSuffix); !files[name+column.DataFileSuffix] {
				log.Warn("data file not found for an index file. %s will be ignored", name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// GetPath returns the root directory.
func (d *Directory) GetPath() string {
	return d.rootPath
}

// Len returns the number of open columns.
func (d *Directory) Len() int {
	d.RLock()
	defer d.RUnlock()
	return len(d.columns)
}

// Names returns the sorted names of the columns matching a glob pattern. An
// empty pattern matches every column.
func (d *Directory) Names(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid column pattern %q: %w", pattern, err)
	}
	d.RLock()
	defer d.RUnlock()
	var names []string
	for name := range d.columns {
		if g.Match(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Acquire returns an existing column for exclusive use until release is
// called.
func (d *Directory) Acquire(name string) (*column.VarColumn, func(), error) {
	d.RLock()
	e, ok := d.columns[name]
	d.RUnlock()
	if !ok {
		return nil, nil, NotFoundError(name)
	}
	return e.acquire()
}

// AcquireOrCreate is Acquire, creating the column first if needed.
func (d *Directory) AcquireOrCreate(name string) (*column.VarColumn, func(), error) {
	if err := d.Create(name); err != nil {
		var exists ColumnAlreadyExists
		if !errors.As(err, &exists) {
			return nil, nil, err
		}
	}
	return d.Acquire(name)
}

func (e *entry) acquire() (*column.VarColumn, func(), error) {
	e.Lock()
	if e.c == nil {
		e.Unlock()
		return nil, nil, errors.New("catalog: directory is closed")
	}
	var once sync.Once
	return e.c, func() { once.Do(e.Unlock) }, nil
}

// Create adds an empty column.
func (d *Directory) Create(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	d.Lock()
	defer d.Unlock()
	if _, ok := d.columns[name]; ok {
		return ColumnAlreadyExists(name)
	}
	c, err := column.Open(d.rootPath, name, d.dataBitHint, d.indexBitHint, d.opts...)
	if err != nil {
		return fmt.Errorf("%s: %w", UnableToCreateFile(name).Error(), err)
	}
	d.columns[name] = &entry{c: c}
	metrics.ColumnsOpen.Set(float64(len(d.columns)))
	log.Debug("created column %s", name)
	return nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return InvalidColumnName(name)
	}
	return nil
}

// Close closes every column, waiting for the ones in use to be released.
func (d *Directory) Close() error {
	d.Lock()
	defer d.Unlock()
	var err error
	for name, e := range d.columns {
		e.Lock()
		if e.c != nil {
			if cerr := e.c.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("close column %s: %w", name, cerr))
			}
			e.c = nil
		}
		e.Unlock()
	}
	d.columns = map[string]*entry{}
	metrics.ColumnsOpen.Set(0)
	return err
}
