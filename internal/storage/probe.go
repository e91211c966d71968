package storage

import (
	"context"
	"sync"
)

// Entry describes one probed path.
type Entry struct {
	Path   string
	Exists bool
	IsFile bool
	IsDir  bool
	Size   int64
}

// Probe stats every path concurrently and returns entries in input order.
// Paths not yet probed when ctx is canceled report Exists=false.
func Probe(ctx context.Context, s Storage, paths []string) []Entry {
	entries := make([]Entry, len(paths))
	sem := make(chan struct{}, 8)
	var wg sync.WaitGroup
	for i, path := range paths {
		entries[i].Path = path
		wg.Go(func() {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			e := &entries[i]
			e.IsFile = s.IsFile(path)
			e.IsDir = !e.IsFile && s.IsDirectory(path)
			e.Exists = e.IsFile || e.IsDir
			if e.IsFile {
				e.Size, _ = s.Size(path)
			}
		})
	}
	wg.Wait()
	return entries
}
