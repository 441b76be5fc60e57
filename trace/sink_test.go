package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelSinkDropsWhenFull(t *testing.T) {
	dropped := 0
	sink := NewChannelSink(1, func() { dropped++ })

	sink.Emit(ExecutionContext{ExecutionID: "a"})
	sink.Emit(ExecutionContext{ExecutionID: "b"}) // buffer full, dropped

	assert.Equal(t, 1, dropped)
	assert.Len(t, sink.Events(), 1)
}

func TestNoopSinkDiscards(t *testing.T) {
	var s NoopSink
	s.Emit(ExecutionContext{ExecutionID: "a"})
}
