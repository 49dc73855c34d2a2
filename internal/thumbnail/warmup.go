package thumbnail

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"bigview/internal/image_list"
)

// Warmup fetches the bitmap of every asset, at most limit at a time, so that
// derived thumbnails exist before they are first requested. It returns the
// number of assets that produced a bitmap.
func (p *Pipeline) Warmup(ctx context.Context, assets []image_list.Asset, limit int) int {
	if len(assets) == 0 {
		return 0
	}
	if limit <= 0 {
		limit = 1
	}

	p.logger.Info("Starting thumbnail warmup", zap.Int("assets", len(assets)), zap.Int("limit", limit))

	slots := make(chan struct{}, limit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0

	for _, asset := range assets {
		if ctx.Err() != nil {
			break
		}
		select {
		case slots <- struct{}{}: // Acquire slot
		case <-ctx.Done():
			continue
		}

		wg.Add(1)
		go func(asset image_list.Asset) {
			defer wg.Done()
			defer func() { <-slots }() // Release slot

			if _, err := p.Fetch(ctx, asset); err != nil {
				p.logger.Debug("Warmup thumbnail failed", zap.String("name", asset.Name), zap.Error(err))
				return
			}
			mu.Lock()
			ok++
			mu.Unlock()
		}(asset)
	}

	wg.Wait()
	if ctx.Err() != nil {
		p.logger.Info("Thumbnail warmup interrupted", zap.Int("ready", ok))
		return ok
	}
	p.logger.Info("Thumbnail warmup completed", zap.Int("ready", ok), zap.Int("assets", len(assets)))
	return ok
}
