package squall

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
)

// coffer is a binary asset file manager that uses runtime memory to reduce
// disk I/O pressure. Cached entries are keyed by a hash of the absolute
// filename and evicted when the watcher sees the file change.
type coffer struct {
	s       *Squall
	once    *sync.Once
	cache   *fastcache.Cache
	watcher *fsnotify.Watcher
}

// newCoffer returns a new instance of the `coffer` with the s.
func newCoffer(s *Squall) *coffer {
	return &coffer{
		s:    s,
		once: &sync.Once{},
	}
}

// init builds the cache and the invalidation watcher on first use, so
// servers that never serve files pay nothing.
func (c *coffer) init() error {
	var err error
	c.once.Do(func() {
		c.cache = fastcache.New(c.s.CofferMaxMemoryBytes)

		c.watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return
		}

		go func() {
			for {
				select {
				case e, ok := <-c.watcher.Events:
					if !ok {
						return
					}

					c.cache.Del(assetKey(e.Name))
				case err, ok := <-c.watcher.Errors:
					if !ok {
						return
					}

					c.s.logger.Errorf("squall: coffer watcher error: %v", err)
				}
			}
		}()
	})

	return err
}

// asset returns the content of the file targeted by the name, from the cache
// when fresh and from the disk otherwise.
func (c *coffer) asset(name string) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, err
	}

	name, err := filepath.Abs(name)
	if err != nil {
		return nil, err
	}

	k := assetKey(name)
	if b, ok := c.cache.HasGet(nil, k); ok {
		return b, nil
	}

	b, err := readFile(name)
	if err != nil {
		return nil, err
	}

	c.cache.Set(k, b)
	c.watcher.Add(name)

	return b, nil
}

// assetKey derives the cache key of the name.
func assetKey(name string) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, xxhash.Sum64String(name))
	return k
}

// readFile reads the whole file targeted by the name.
func readFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}
