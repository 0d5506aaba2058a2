package schedule

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore_MissingFileStartsEmpty(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "schedules.json"))
	require.NoError(t, err)
	assert.Empty(t, store.List())
}

func TestStore_AddAndDeleteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.json")

	store, err := OpenStore(path)
	require.NoError(t, err)

	entry := Entry{ID: "e1", Step: "link_crawl", ScheduleType: Daily, Time: "09:00"}
	require.NoError(t, store.Add(entry))

	reloaded, err := OpenStore(path)
	require.NoError(t, err)
	require.Len(t, reloaded.List(), 1)
	assert.Equal(t, "e1", reloaded.List()[0].ID)

	require.NoError(t, reloaded.Delete("e1"))
	assert.Empty(t, reloaded.List())
}

func TestEntry_DueOn_DailyAlwaysDue(t *testing.T) {
	e := Entry{ScheduleType: Daily}
	assert.True(t, e.dueOn(time.Monday))
	assert.True(t, e.dueOn(time.Sunday))
}

func TestEntry_DueOn_WeeklyOnlyListedDays(t *testing.T) {
	e := Entry{ScheduleType: Weekly, Days: []time.Weekday{time.Monday, time.Wednesday}}
	assert.True(t, e.dueOn(time.Monday))
	assert.False(t, e.dueOn(time.Tuesday))
}

func TestScheduler_CheckMinute_FiresDueEntryOnce(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "schedules.json"))
	require.NoError(t, err)

	require.NoError(t, store.Add(Entry{ID: "e1", Step: "content_crawl", ScheduleType: Daily, Time: "09:00"}))

	fireCount := 0
	scheduler := NewScheduler(store, func(Entry) { fireCount++ }, zerolog.Nop())
	scheduler.now = func() time.Time { return time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC) }

	scheduler.checkMinute()
	scheduler.checkMinute()

	assert.Equal(t, 1, fireCount)
}

func TestScheduler_CheckMinute_SkipsEntryOutsideItsMinute(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "schedules.json"))
	require.NoError(t, err)

	require.NoError(t, store.Add(Entry{ID: "e1", Step: "content_crawl", ScheduleType: Daily, Time: "09:00"}))

	fireCount := 0
	scheduler := NewScheduler(store, func(Entry) { fireCount++ }, zerolog.Nop())
	scheduler.now = func() time.Time { return time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC) }

	scheduler.checkMinute()

	assert.Equal(t, 0, fireCount)
}
