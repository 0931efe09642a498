package service

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"deedstudio/internal/ingest"
	"deedstudio/internal/storage"
)

// deleteAll removes every object path plus the ingest asset (or pending
// upload) concurrently. Individual failures are logged and do not stop the
// others; it returns once every deletion has finished.
func deleteAll(ctx context.Context, objects storage.ObjectStore, ingestSvc ingest.Service, paths []string, assetID, uploadID string, log *logrus.Entry) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	fail := func(what string, err error) {
		mu.Lock()
		failed++
		mu.Unlock()
		log.Warnf("Delete FAILED (ignored): %s err=%v", what, err)
	}

	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		p := p

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := objects.Delete(ctx, p); err != nil {
				fail("path="+p, err)
			}
		}()
	}

	if ingestSvc != nil && (assetID != "" || uploadID != "") {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if assetID != "" {
				if err := ingestSvc.DeleteAsset(ctx, assetID); err != nil {
					fail("asset="+assetID, err)
				}
				return
			}
			if err := ingestSvc.CancelUpload(ctx, uploadID); err != nil {
				fail("upload="+uploadID, err)
			}
		}()
	}

	wg.Wait()
	return failed
}

// subtractPaths returns the entries of from that are not in keep.
func subtractPaths(from, keep []string) []string {
	kept := make(map[string]bool, len(keep))
	for _, p := range keep {
		kept[p] = true
	}
	var out []string
	for _, p := range from {
		if !kept[p] {
			out = append(out, p)
		}
	}
	return out
}
