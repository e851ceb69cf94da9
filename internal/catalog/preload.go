package catalog

import (
	"golang.org/x/sync/errgroup"

	"rangefs/internal/config"
)

// preload copies the full range of each record into memory. It runs
// before the catalog is shared, so records are written without locking.
// A failed read leaves the record without a preloaded buffer.
func (c *Catalog) preload(records []*InodeRecord) {
	if len(records) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(max(c.preloadLimit, 1))
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			data, err := readWholeRange(rec)
			if err != nil {
				logger.Warn("Preload of %q failed, serving it from %s: %v", rec.name, rec.cfg.File, err)
				return nil
			}
			rec.preloaded = data
			logger.Debug("Preloaded %d bytes for %q", len(data), rec.name)
			return nil
		})
	}
	_ = g.Wait()
}

// readWholeRange reads [offset, offset+size) limited to what the backing
// file can supply, so an oversized explicit size does not allocate more
// than exists.
func readWholeRange(rec *InodeRecord) ([]byte, error) {
	st, err := probe(rec.cfg.File)
	if err != nil {
		return nil, err
	}
	available := config.SubClamped(uint64(max(st.Size, 0)), rec.cfg.Offset)
	return ReadRange(rec.cfg.File, rec.cfg.Offset, min(rec.attrs.Size, available))
}
