package swi

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateApply(t *testing.T) {
	s := NewState(Snapshot{})

	before, after := s.Apply(Start())
	assert.Equal(t, Snapshot{}, before)
	assert.Equal(t, Snapshot{Running: true}, after)

	// SET leaves running untouched
	_, after = s.Apply(Set(42))
	assert.Equal(t, Snapshot{Running: true, Value: 42}, after)

	// STOP leaves value untouched
	_, after = s.Apply(Stop())
	assert.Equal(t, Snapshot{Running: false, Value: 42}, after)

	assert.Equal(t, after, s.Snapshot())
}

func TestStateApplyIsIdempotentForStartStop(t *testing.T) {
	s := NewState(Snapshot{Value: 7})

	s.Apply(Start())
	_, after := s.Apply(Start())
	assert.Equal(t, Snapshot{Running: true, Value: 7}, after)

	s.Apply(Stop())
	_, after = s.Apply(Stop())
	assert.Equal(t, Snapshot{Running: false, Value: 7}, after)
}

func TestStateInitial(t *testing.T) {
	s := NewState(Snapshot{Running: true, Value: 200})
	assert.Equal(t, Snapshot{Running: true, Value: 200}, s.Snapshot())
}

func TestStateConcurrentReaders(t *testing.T) {
	s := NewState(Snapshot{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				snap := s.Snapshot()
				// Writers only ever pair running with value 1 and stopped
				// with value 0, so a torn read would show up here.
				if snap.Running {
					assert.Equal(t, uint8(1), snap.Value)
				}
			}
		}()
	}

	for j := 0; j < 1000; j++ {
		s.Apply(Set(1))
		s.Apply(Start())
		s.Apply(Stop())
		s.Apply(Set(0))
	}
	wg.Wait()
}
