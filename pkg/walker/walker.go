// Package walker enumerates a PostgreSQL data directory into an ordered,
// pull-based sequence of archive entries, and splits that sequence into
// size-bounded chunks that stay self-contained under tar extraction.
package walker

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Entry is one item the chunk writer will add to a tar stream: either a
// directory (added non-recursively) or a file. ArchivePath is always
// forward-slash-separated and rooted at the data directory's basename
// (e.g. "pgdata/base/1/1234"), matching the layout the restore side
// expects to find inside a chunk.
type Entry struct {
	ArchivePath string
	LocalPath   string
	MissingOk   bool
	IsDir       bool
}

// Tablespace is a single tablespace mount point. Name is the logical
// PostgreSQL tablespace name an operator maps at restore time
// (`--tablespace-dir name=path`); OID is what pg_tblspc's symlink is
// actually named on disk.
type Tablespace struct {
	Name string
	OID  string
	Path string
}

// defaultExclusions lists path fragments the walker drops per spec: socket
// files, pid files, temporary state, current WAL directory contents, and
// stats temp files. Patterns are matched against the path relative to the
// data directory root, forward-slash separated.
var defaultExclusions = []func(relPath string, isDir bool) bool{
	func(rel string, isDir bool) bool {
		base := baseName(rel)
		return base == "postmaster.pid" || base == "postmaster.opts"
	},
	func(rel string, isDir bool) bool {
		return strings.Contains(baseName(rel), ".s.PGSQL.")
	},
	func(rel string, isDir bool) bool {
		return rel != "pg_wal" && strings.HasPrefix(rel, "pg_wal/")
	},
	func(rel string, isDir bool) bool {
		return rel != "pg_xlog" && strings.HasPrefix(rel, "pg_xlog/")
	},
	func(rel string, isDir bool) bool {
		return rel != "pg_stat_tmp" && strings.HasPrefix(rel, "pg_stat_tmp/")
	},
	func(rel string, isDir bool) bool {
		return rel == "pgsql_tmp" || strings.HasPrefix(rel, "pgsql_tmp/") ||
			strings.Contains(rel, "/pgsql_tmp/") || strings.Contains(rel, "/pgsql_tmp")
	},
}

func baseName(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[i+1:]
	}
	return rel
}

// IsExcluded reports whether relPath (forward-slash separated, relative to
// the data directory root) belongs to the cluster's exclusion list.
func IsExcluded(relPath string, isDir bool) bool {
	for _, rule := range defaultExclusions {
		if rule(relPath, isDir) {
			return true
		}
	}
	return false
}

// Walker emits entries for one data directory in deterministic,
// depth-first order: directories before their contents, siblings in
// lexical order. It is pull-based and holds no buffered list, so files
// unlinked after Next returns them are only noticed when the chunk
// writer tries to open them (missing_ok governs whether that is fatal).
type Walker struct {
	root        string
	rootName    string
	tablespaces []Tablespace
	stack       []frame
	started     bool
}

type frame struct {
	dir     string // local filesystem path
	rel     string // archive-relative path ("" for the root)
	entries []os.DirEntry
	idx     int
}

// New returns a Walker over pgdata. tablespaces is stored but not used by
// the walk: a pg_tblspc/<oid> symlink is emitted as a single entry with
// IsDir false, and the directory it points to is not walked.
func New(pgdata string, tablespaces []Tablespace) *Walker {
	return &Walker{
		root:        pgdata,
		rootName:    filepath.Base(pgdata),
		tablespaces: tablespaces,
	}
}

func (w *Walker) init() error {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return err
	}
	sortDirEntries(entries)
	w.stack = []frame{{dir: w.root, rel: "", entries: entries}}
	w.started = true
	return nil
}

// Next returns the next entry in the walk, or ok=false once exhausted.
// err is non-nil only for I/O failures on the directories themselves
// (listing a subdirectory that vanished is treated as an empty subtree,
// not an error, matching missing_ok semantics for non-top-level paths).
func (w *Walker) Next() (Entry, bool, error) {
	if !w.started {
		if err := w.init(); err != nil {
			return Entry{}, false, err
		}
	}

	for len(w.stack) > 0 {
		top := &w.stack[len(w.stack)-1]
		if top.idx >= len(top.entries) {
			w.stack = w.stack[:len(w.stack)-1]
			continue
		}

		de := top.entries[top.idx]
		top.idx++

		rel := de.Name()
		if top.rel != "" {
			rel = top.rel + "/" + de.Name()
		}
		local := filepath.Join(top.dir, de.Name())
		isDir := de.IsDir()

		if IsExcluded(rel, isDir) {
			continue
		}

		archivePath := w.rootName + "/" + rel
		missingOk := strings.Contains(rel, "/")

		entry := Entry{
			ArchivePath: archivePath,
			LocalPath:   local,
			MissingOk:   missingOk,
			IsDir:       isDir,
		}

		if isDir {
			children, err := os.ReadDir(local)
			if err != nil {
				if os.IsNotExist(err) {
					children = nil
				} else {
					return Entry{}, false, err
				}
			}
			sortDirEntries(children)
			w.stack = append(w.stack, frame{dir: local, rel: rel, entries: children})
		}

		return entry, true, nil
	}

	return Entry{}, false, nil
}

func sortDirEntries(entries []os.DirEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
}

// FindAndSplit walks pgdata and groups the resulting entries into chunks
// whose accumulated file sizes (directories count as zero) do not exceed
// targetChunkSize. When a chunk boundary falls inside a subtree, the next
// chunk is seeded with every directory entry still open at that point, so
// each chunk is self-contained for tar extraction: every file entry's
// ancestor directories appear earlier in the same chunk.
func FindAndSplit(pgdata string, tablespaces []Tablespace, targetChunkSize int64) (int, [][]Entry, error) {
	w := New(pgdata, tablespaces)

	var (
		chunks   [][]Entry
		current  []Entry
		openDirs []Entry
		accum    int64
		total    int
	)

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, current)
		}
	}

	for {
		e, ok, err := w.Next()
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			break
		}
		total++

		for len(openDirs) > 0 && !isAncestor(openDirs[len(openDirs)-1].ArchivePath, e.ArchivePath) {
			openDirs = openDirs[:len(openDirs)-1]
		}

		size := int64(0)
		if !e.IsDir {
			if info, statErr := os.Stat(e.LocalPath); statErr == nil {
				size = info.Size()
			} else if !e.MissingOk {
				return 0, nil, statErr
			}
		}

		if len(current) > 0 && accum+size > targetChunkSize {
			flush()
			current = append([]Entry{}, openDirs...)
			accum = 0
		}

		current = append(current, e)
		accum += size

		if e.IsDir {
			openDirs = append(openDirs, e)
		}
	}
	flush()

	return total, chunks, nil
}

func isAncestor(dirArchivePath, path string) bool {
	return path == dirArchivePath || strings.HasPrefix(path, dirArchivePath+"/")
}

// Discover reads pgdata's pg_tblspc directory and resolves each OID
// symlink to its target, building the Tablespace list a backup attempt
// records in its manifest. Tablespace names default to their OID: a real
// deployment typically wants operator-assigned names (matched later at
// restore time via --tablespace-dir), which the caller may overlay onto
// the returned slice.
func Discover(pgdata string) ([]Tablespace, error) {
	dir := filepath.Join(pgdata, "pg_tblspc")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tablespaces []Tablespace
	for _, entry := range entries {
		oid := entry.Name()
		target, err := os.Readlink(filepath.Join(dir, oid))
		if err != nil {
			continue
		}
		tablespaces = append(tablespaces, Tablespace{Name: oid, OID: oid, Path: target})
	}
	sort.Slice(tablespaces, func(i, j int) bool { return tablespaces[i].OID < tablespaces[j].OID })
	return tablespaces, nil
}
