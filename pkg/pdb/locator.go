package pdb

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bluele/gcache"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/jtang613/cvsym/pkg/pdb/msf"
	"github.com/jtang613/cvsym/pkg/pdb/streams"
)

// SymbolPathEnv names the environment variable holding extra search
// directories, separated by semicolons.
const SymbolPathEnv = "CVSYM_SYMBOL_PATH"

// DefaultCacheSize is the number of resolved lookups a Locator remembers.
const DefaultCacheSize = 64

// Locator finds the PDB files images refer to. A directory is searched
// flat (dir/name.pdb) and as a symbol store (dir/name.pdb/KEY/name.pdb).
// Candidates are opened and only returned when their key matches.
type Locator struct {
	paths []string
	cache gcache.Cache
	log   *zap.Logger
}

// NewLocator searches paths followed by the directories of SymbolPathEnv.
// A cacheSize of 0 selects DefaultCacheSize.
func NewLocator(paths []string, cacheSize int, log *zap.Logger) *Locator {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	all := append([]string(nil), paths...)
	all = append(all, SplitSymbolPath(os.Getenv(SymbolPathEnv))...)
	return &Locator{
		paths: all,
		cache: gcache.New(cacheSize).LRU().Build(),
		log:   log,
	}
}

// SplitSymbolPath splits a semicolon separated path list, dropping empty
// elements.
func SplitSymbolPath(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Paths returns the configured search directories.
func (l *Locator) Paths() []string { return l.paths }

// Locate returns the path of a file matching lookup. The recorded file
// name is tried first, then each of dirs and the configured directories.
// It fails with ErrNotFound when no candidate matches.
func (l *Locator) Locate(lookup *Lookup, dirs ...string) (string, error) {
	key := strings.ToLower(lookup.Base()) + "/" + lookup.Key()
	if v, err := l.cache.Get(key); err == nil {
		return v.(string), nil
	}

	for _, cand := range l.candidates(lookup, dirs) {
		if _, err := os.Stat(cand); err != nil {
			continue
		}
		if err := verify(cand, lookup); err != nil {
			l.log.Debug("rejected candidate", zap.String("path", cand), zap.Error(err))
			continue
		}
		if err := l.cache.Set(key, cand); err != nil {
			l.log.Debug("failed to cache lookup", zap.String("key", key), zap.Error(err))
		}
		return cand, nil
	}
	return "", errors.Wrapf(ErrNotFound, "%s", lookup)
}

func (l *Locator) candidates(lookup *Lookup, dirs []string) []string {
	base := lookup.Base()
	out := []string{filepath.FromSlash(strings.ReplaceAll(lookup.Filename, `\`, "/"))}
	for _, dir := range append(append([]string(nil), dirs...), l.paths...) {
		out = append(out,
			filepath.Join(dir, base),
			filepath.Join(dir, base, lookup.Key(), base))
	}
	return out
}

// verify opens path and checks its root stream against lookup.
func verify(path string, lookup *Lookup) error {
	c, err := msf.Open(path)
	if err != nil {
		return err
	}
	defer c.Close()

	data, err := c.Stream(streams.StreamRoot)
	if err != nil {
		return errors.Wrap(err, "failed to read root stream")
	}
	root, err := streams.ReadRoot(data, c.Format())
	if err != nil {
		return err
	}
	return lookup.Match(c.Format(), root)
}
