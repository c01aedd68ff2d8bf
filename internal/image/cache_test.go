package image

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetOrOpenCachesByName(t *testing.T) {
	c := NewCache()
	raw := assembleFixture(minimalSections())
	var opens int32

	load := func() ([]byte, error) {
		atomic.AddInt32(&opens, 1)
		return raw, nil
	}

	img1, err := c.GetOrOpen("demo.sp", load)
	require.NoError(t, err)
	img2, err := c.GetOrOpen("demo.sp", load)
	require.NoError(t, err)

	assert.Same(t, img1, img2)
	assert.EqualValues(t, 1, opens)
}

func TestCache_GetOrOpenFailurePropagatesAndDoesNotCache(t *testing.T) {
	c := NewCache()
	boom := assert.AnError
	load := func() ([]byte, error) { return nil, boom }

	_, err := c.GetOrOpen("bad.sp", load)
	assert.ErrorIs(t, err, boom)

	_, ok := c.Get("bad.sp")
	assert.False(t, ok)
}

func TestCache_ConcurrentFirstReferencesOpenOnce(t *testing.T) {
	c := NewCache()
	raw := assembleFixture(minimalSections())
	var opens int32
	load := func() ([]byte, error) {
		atomic.AddInt32(&opens, 1)
		return raw, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.GetOrOpen("concurrent.sp", load)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, opens)
}
