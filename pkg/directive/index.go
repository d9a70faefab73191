package directive

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/skipmarkers/pkg/markers"
)

// Test is a test function found in a source file, with the markers that apply
// to it: the file level markers followed by its own.
type Test struct {
	Name     string
	Position token.Position
	Markers  []markers.Marker

	// Err is set when a directive of the function itself is malformed. The
	// other tests of the file are unaffected.
	Err error
}

// Index maps test function names to their markers.
type Index map[string]Test

// IndexFile collects the top level test functions of file. Test functions are
// indexed even when they carry no directive, since file level markers still
// apply to them. A malformed file level directive fails the whole file.
func IndexFile(fset *token.FileSet, file *ast.File) (Index, error) {
	fileMarkers, err := FromFile(fset, file)
	if err != nil {
		return nil, err
	}

	idx := make(Index)
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil || !IsTestName(fn.Name.Name) {
			continue
		}

		t := Test{
			Name:     fn.Name.Name,
			Position: fset.Position(fn.Name.Pos()),
		}
		if own, err := FromFuncDecl(fset, fn); err != nil {
			t.Err = err
		} else {
			t.Markers = make([]markers.Marker, 0, len(fileMarkers)+len(own))
			t.Markers = append(t.Markers, fileMarkers...)
			t.Markers = append(t.Markers, own...)
		}
		idx[fn.Name.Name] = t
	}
	return idx, nil
}

// ParseFile parses the Go source at path, or src when non-nil, and indexes it.
func ParseFile(path string, src any) (Index, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return IndexFile(fset, file)
}

type cachedIndex struct {
	once sync.Once
	idx  Index
	err  error
}

// FileCache parses each source file once and shares the result between
// concurrently running tests.
type FileCache struct {
	files *xsync.Map[string, *cachedIndex]
}

// NewFileCache creates an empty FileCache.
func NewFileCache() *FileCache {
	return &FileCache{files: xsync.NewMap[string, *cachedIndex]()}
}

// Index returns the index of the file at path.
func (c *FileCache) Index(path string) (Index, error) {
	entry, _ := c.files.LoadOrStore(path, &cachedIndex{})
	entry.once.Do(func() {
		entry.idx, entry.err = ParseFile(path, nil)
	})
	return entry.idx, entry.err
}

// Lookup returns the markers of the test function name declared in path.
func (c *FileCache) Lookup(path, name string) (Test, bool, error) {
	idx, err := c.Index(path)
	if err != nil {
		return Test{}, false, err
	}
	t, ok := idx[name]
	return t, ok, nil
}
