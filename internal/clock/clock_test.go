package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_EveryFiresOncePerPeriod(t *testing.T) {
	c := NewFake(epoch)
	var fired []time.Time
	c.Every(time.Second, func() { fired = append(fired, c.Now()) })

	c.Advance(3500 * time.Millisecond)

	require.Len(t, fired, 3)
	assert.Equal(t, epoch.Add(time.Second), fired[0])
	assert.Equal(t, epoch.Add(3*time.Second), fired[2])
	assert.Equal(t, epoch.Add(3500*time.Millisecond), c.Now())
}

func TestFake_AfterFuncFiresOnce(t *testing.T) {
	c := NewFake(epoch)
	count := 0
	c.AfterFunc(time.Second, func() { count++ })

	c.Advance(5 * time.Second)

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_StopInsideCallback(t *testing.T) {
	c := NewFake(epoch)
	count := 0
	var s Stopper
	s = c.Every(time.Second, func() {
		count++
		if count == 2 {
			s.Stop()
		}
	})

	c.Advance(10 * time.Second)

	assert.Equal(t, 2, count)
}

func TestFake_OrderingAcrossTimers(t *testing.T) {
	c := NewFake(epoch)
	var order []string
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(time.Second, func() { order = append(order, "a") })
	c.Every(2*time.Second, func() { order = append(order, "tick") })

	c.Advance(2 * time.Second)

	assert.Equal(t, []string{"a", "b", "tick"}, order)
}

func TestFake_CallbackCanScheduleTimer(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	c.AfterFunc(time.Second, func() {
		c.AfterFunc(time.Second, func() { fired = true })
	})

	c.Advance(2 * time.Second)

	assert.True(t, fired)
}

func TestTimerSet_StopSession(t *testing.T) {
	c := NewFake(epoch)
	ts := NewTimerSet()
	count := 0
	ts.Set(Key("ABCD", "event", "1"), c.Every(time.Second, func() { count++ }))
	ts.Set(Key("ABCD", "mission", "2"), c.Every(time.Second, func() { count++ }))
	ts.Set(Key("WXYZ", "event", "3"), c.Every(time.Second, func() { count += 100 }))

	stopped := ts.StopSession("ABCD")
	c.Advance(time.Second)

	assert.Equal(t, 2, stopped)
	assert.Equal(t, 100, count)
	assert.Equal(t, 1, ts.Len())
}

func TestTimerSet_SetReplacesAndStopsPrevious(t *testing.T) {
	c := NewFake(epoch)
	ts := NewTimerSet()
	first, second := 0, 0
	key := Key("ABCD", "throttle")
	ts.Set(key, c.AfterFunc(time.Second, func() { first++ }))
	ts.Set(key, c.AfterFunc(time.Second, func() { second++ }))

	c.Advance(time.Second)

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestReal_EveryStops(t *testing.T) {
	ch := make(chan struct{}, 10)
	s := Real{}.Every(5*time.Millisecond, func() { ch <- struct{}{} })
	<-ch
	s.Stop()
	s.Stop()
}

func TestReal_AfterFuncStops(t *testing.T) {
	fired := make(chan struct{}, 1)
	s := Real{}.AfterFunc(5*time.Millisecond, func() { fired <- struct{}{} })
	<-fired
	s.Stop()

	var calls atomic.Int32
	s = Real{}.AfterFunc(time.Hour, func() { calls.Add(1) })
	s.Stop()
	s.Stop()
	assert.Zero(t, calls.Load())
}
