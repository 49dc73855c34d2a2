package thumbnail

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bigview/internal/image_list"
)

func TestWarmupPersistsEveryLargeAsset(t *testing.T) {
	f := newFixture(t, 2)

	var assets []image_list.Asset
	for i := 0; i < 5; i++ {
		assets = append(assets, f.asset(fmt.Sprintf("img%d.png", i), 300, 150))
	}
	assets = append(assets, f.assetAt("missing.png"))

	ready := f.p.Warmup(context.Background(), assets, 2)
	assert.Equal(t, 5, ready)

	for _, a := range assets[:5] {
		_, ok := f.store.Lookup(a.Key)
		require.True(t, ok, a.Name)
	}
}

func TestWarmupStopsWhenCancelled(t *testing.T) {
	f := newFixture(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ready := f.p.Warmup(ctx, []image_list.Asset{f.asset("a.png", 10, 10)}, 1)
	assert.Equal(t, 0, ready)
}
