package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestDevice_LaunchEmitsLoadBurst(t *testing.T) {
	defer goleak.VerifyNone(t)

	opts := DefaultOptions()
	opts.LoadEvents = 3
	opts.LoadSpacing = 5 * time.Millisecond
	dev := New(zap.NewNop(), opts)
	defer dev.Close()

	var mu sync.Mutex
	var seen []string
	unregister := dev.Watch(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, id)
	})
	defer unregister()

	require.NoError(t, dev.LaunchApp(context.Background(), "com.example"))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"com.example:view-0", "com.example:view-1", "com.example:view-2"}, seen)
	mu.Unlock()
	assert.True(t, dev.Running("com.example"))
	assert.Equal(t, "com.example", dev.Foreground())
}

func TestDevice_UnregisterStopsDelivery(t *testing.T) {
	opts := DefaultOptions()
	opts.LoadEvents = 0
	dev := New(zap.NewNop(), opts)
	defer dev.Close()

	calls := 0
	unregister := dev.Watch(func(string) { calls++ })
	dev.notify("a")
	unregister()
	dev.notify("b")
	assert.Equal(t, 1, calls)
}

func TestDevice_CloseInterruptsLoad(t *testing.T) {
	defer goleak.VerifyNone(t)

	opts := DefaultOptions()
	opts.LoadEvents = 100
	opts.LoadSpacing = time.Hour
	dev := New(zap.NewNop(), opts)
	require.NoError(t, dev.LaunchApp(context.Background(), "com.example"))

	done := make(chan struct{})
	go func() {
		dev.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not interrupt the load simulation")
	}
}

func TestDevice_StopApp(t *testing.T) {
	opts := DefaultOptions()
	opts.LoadEvents = 0
	dev := New(zap.NewNop(), opts)
	defer dev.Close()
	ctx := context.Background()

	require.NoError(t, dev.LaunchActivity(ctx, "com.android.settings", "com.android.settings.Wifi"))
	require.NoError(t, dev.StopApp(ctx, "com.android.settings"))
	assert.False(t, dev.Running("com.android.settings"))
	assert.Equal(t, "", dev.Foreground())

	assert.Error(t, dev.LaunchApp(ctx, "com.missing"))
	assert.Error(t, dev.LaunchActivity(ctx, "com.example", ""))
}

func TestDevice_TreeHandlesAreCounted(t *testing.T) {
	dev := New(zap.NewNop(), Options{Width: 400, Height: 800, Apps: DefaultApps()})
	defer dev.Close()

	root, err := dev.ActiveRoot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), dev.OpenHandles())

	child := root.Child(0)
	require.NotNil(t, child)
	assert.Nil(t, root.Child(99))
	assert.Equal(t, int64(2), dev.OpenHandles())
	child.Release()
	child.Release()
	root.Release()
	assert.Zero(t, dev.OpenHandles())
}

func TestDevice_CaptureMatchesScreen(t *testing.T) {
	dev := New(zap.NewNop(), Options{Width: 40, Height: 80})
	defer dev.Close()

	img, err := dev.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())
}
