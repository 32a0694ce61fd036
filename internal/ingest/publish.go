package ingest

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"streamhub/internal/assets"
	"streamhub/internal/transcode"
)

// publication tracks the objects stored during one run so they can be
// removed if a later step fails.
type publication struct {
	mu     sync.Mutex
	stored []assets.Object
}

func newPublication() *publication {
	return &publication{}
}

func (p *publication) add(object assets.Object) {
	p.mu.Lock()
	p.stored = append(p.stored, object)
	p.mu.Unlock()
}

func (p *publication) objects() []assets.Object {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]assets.Object, len(p.stored))
	copy(out, p.stored)
	return out
}

func (p *publication) find(match func(assets.Object) bool) (assets.Object, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, object := range p.stored {
		if match(object) {
			return object, true
		}
	}
	return assets.Object{}, false
}

// publishSegments uploads every segment concurrently and then the manifest.
// The manifest is the commit point: it is never uploaded unless all of its
// segments are stored.
func (p *Pipeline) publishSegments(ctx context.Context, id string, set transcode.SegmentSet, published *publication) error {
	prefix := path.Join(videoPrefix, id)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.cfg.UploadConcurrency)
	for _, segment := range set.Segments {
		segment := segment
		group.Go(func() error {
			key := path.Join(prefix, segment)
			local := filepath.Join(set.Dir, filepath.FromSlash(segment))
			object, err := putFile(groupCtx, p.assets, key, assets.ContentTypeFor(key), local)
			if err != nil {
				return fmt.Errorf("segment %s: %w", segment, err)
			}
			published.add(object)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	key := path.Join(prefix, set.Manifest)
	object, err := putFile(ctx, p.assets, key, assets.ContentTypeFor(key), set.ManifestPath())
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	published.add(object)
	return nil
}

func putFile(ctx context.Context, store assets.Store, key, contentType, local string) (assets.Object, error) {
	file, err := os.Open(local)
	if err != nil {
		return assets.Object{}, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return assets.Object{}, err
	}
	return store.Put(ctx, key, contentType, file, info.Size())
}
