package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/minio/minio-go/v7"
)

// maxConcurrentUploads bounds the upload pool. An HLS output tree is mostly
// small segment files, so file-level parallelism is what pays off here.
const maxConcurrentUploads = 10

// uploadItem is one file scheduled for upload.
type uploadItem struct {
	localPath string
	key       string
	size      int64
}

// collectUploads walks localDir and pairs every file with its object key
// under keyPrefix.
func collectUploads(localDir, keyPrefix string) ([]uploadItem, error) {
	var items []uploadItem

	err := filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}

		items = append(items, uploadItem{
			localPath: path,
			key:       keyPrefix + "/" + filepath.ToSlash(rel),
			size:      info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return items, nil
}

// uploadAll pushes the items through a bounded worker pool. After a failure
// no new uploads start; in-flight ones drain. Returns how many uploads
// succeeded and the first error.
func (s *Storage) uploadAll(ctx context.Context, items []uploadItem) (int, error) {
	sem := make(chan struct{}, maxConcurrentUploads)
	var wg sync.WaitGroup

	var mu sync.Mutex
	count := 0
	var firstErr error

	for _, item := range items {
		mu.Lock()
		stop := firstErr != nil
		mu.Unlock()
		if stop {
			break
		}

		wg.Add(1)
		go func(item uploadItem) {
			defer wg.Done()

			// Acquire semaphore
			sem <- struct{}{}
			defer func() { <-sem }()

			_, err := s.client.FPutObject(ctx, s.outputBucket, item.key, item.localPath, minio.PutObjectOptions{
				ContentType: getContentType(item.localPath),
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("failed to upload %s: %w", item.key, err)
				}
				return
			}
			count++
		}(item)
	}

	wg.Wait()
	return count, firstErr
}
