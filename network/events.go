package network

import (
	"time"

	"github.com/google/uuid"
)

// Pool event types
const (
	PoolCreated          = "ConnectionPoolCreated"
	PoolReady            = "ConnectionPoolReady"
	PoolCleared          = "ConnectionPoolCleared"
	PoolClosedEvent      = "ConnectionPoolClosed"
	ConnectionCreated    = "ConnectionCreated"
	ConnectionReady      = "ConnectionReady"
	ConnectionClosed     = "ConnectionClosed"
	CheckOutStarted      = "ConnectionCheckOutStarted"
	CheckOutFailed       = "ConnectionCheckOutFailed"
	ConnectionCheckedOut = "ConnectionCheckedOut"
	ConnectionCheckedIn  = "ConnectionCheckedIn"
)

// Reasons attached to ConnectionClosed and ConnectionCheckOutFailed events
const (
	ReasonIdle            = "idle"
	ReasonStale           = "stale"
	ReasonError           = "error"
	ReasonPoolClosed      = "poolClosed"
	ReasonConnectionError = "connectionError"
	ReasonTimeout         = "timeout"
)

// MonitorPoolOptions contains pool options as formatted in pool events
type MonitorPoolOptions struct {
	MaxPoolSize        uint64 `json:"maxPoolSize"`
	MinPoolSize        uint64 `json:"minPoolSize"`
	MaxConnecting      uint64 `json:"maxConnecting"`
	MaxIdleTimeMS      int64  `json:"maxIdleTimeMS"`
	WaitQueueTimeoutMS int64  `json:"waitQueueTimeoutMS"`
	LoadBalanced       bool   `json:"loadBalanced"`
}

// PoolEvent is a timestamped lifecycle notification. Events are observations
// only; nothing a sink does changes pool behavior.
type PoolEvent struct {
	Type         string              `json:"type"`
	Time         time.Time           `json:"time"`
	Address      string              `json:"address"`
	PoolID       uuid.UUID           `json:"poolId"`
	ConnectionID uint64              `json:"connectionId,omitempty"`
	ServiceID    *uuid.UUID          `json:"serviceId,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	Error        error               `json:"-"`
	ErrorMessage string              `json:"error,omitempty"`
	Duration     time.Duration       `json:"duration,omitempty"`
	Interruption bool                `json:"interruptInUseConnections,omitempty"`
	Options      *MonitorPoolOptions `json:"options,omitempty"`
}

// EventSink consumes pool events. HandleEvent is called with the pool's lock
// held and must not block or call back into the pool.
type EventSink interface {
	HandleEvent(evt *PoolEvent)
}

// EventSinkFunc adapts a function to an EventSink
type EventSinkFunc func(evt *PoolEvent)

// HandleEvent implements EventSink.
func (f EventSinkFunc) HandleEvent(evt *PoolEvent) { f(evt) }

// MultiSink fans events out to several sinks in order
type MultiSink []EventSink

// HandleEvent implements EventSink.
func (m MultiSink) HandleEvent(evt *PoolEvent) {
	for _, s := range m {
		if s != nil {
			s.HandleEvent(evt)
		}
	}
}

func monitorOptions(o PoolOptions) *MonitorPoolOptions {
	return &MonitorPoolOptions{
		MaxPoolSize:        o.MaxPoolSize,
		MinPoolSize:        o.MinPoolSize,
		MaxConnecting:      o.MaxConnecting,
		MaxIdleTimeMS:      o.MaxIdleTime.Milliseconds(),
		WaitQueueTimeoutMS: o.WaitQueueTimeout.Milliseconds(),
		LoadBalanced:       o.LoadBalanced,
	}
}
