package backtester

import (
	"time"

	"github.com/ridopark/quantlab/pkg/strategy"
)

// Config represents the backtester configuration
type Config struct {
	InitialCapital float64           `yaml:"initial_capital"`
	Commission     *CommissionConfig `yaml:"commission"`
	SlippageRate   float64           `yaml:"slippage_rate"`
	MaxSlippage    float64           `yaml:"max_slippage"`
	AllowShort     bool              `yaml:"allow_short"`
}

// DefaultConfig mirrors the research setup: 100k cash, 0.1% commission, shorting allowed
func DefaultConfig() Config {
	return Config{
		InitialCapital: 100000,
		Commission:     DefaultCommissionConfig(),
		AllowShort:     true,
	}
}

// Event represents different types of events in the backtester
type Event interface {
	GetTimestamp() time.Time
	GetType() EventType
}

// EventType represents the type of event
type EventType string

const (
	EventTypeMarket EventType = "MARKET"
	EventTypeOrder  EventType = "ORDER"
	EventTypeFill   EventType = "FILL"
)

// MarketEvent carries every bar that shares a timestamp
type MarketEvent struct {
	DataPoint strategy.DataPoint
}

func (e MarketEvent) GetTimestamp() time.Time {
	return e.DataPoint.Timestamp
}

func (e MarketEvent) GetType() EventType {
	return EventTypeMarket
}

// OrderEvent represents an order to be executed
type OrderEvent struct {
	Order strategy.Order
}

func (e OrderEvent) GetTimestamp() time.Time {
	return e.Order.Timestamp
}

func (e OrderEvent) GetType() EventType {
	return EventTypeOrder
}

// FillEvent represents a completed trade
type FillEvent struct {
	Trade strategy.TradeEvent
}

func (e FillEvent) GetTimestamp() time.Time {
	return e.Trade.Timestamp
}

func (e FillEvent) GetType() EventType {
	return EventTypeFill
}

// EventQueue is a FIFO of pending events
type EventQueue struct {
	events []Event
}

// NewEventQueue creates a new event queue
func NewEventQueue() *EventQueue {
	return &EventQueue{
		events: make([]Event, 0),
	}
}

// Push adds an event to the queue
func (eq *EventQueue) Push(event Event) {
	eq.events = append(eq.events, event)
}

// PushFront adds an event ahead of everything already queued
func (eq *EventQueue) PushFront(event Event) {
	eq.events = append([]Event{event}, eq.events...)
}

// Pop removes and returns the next event from the queue
func (eq *EventQueue) Pop() Event {
	if len(eq.events) == 0 {
		return nil
	}

	event := eq.events[0]
	eq.events = eq.events[1:]
	return event
}

// IsEmpty returns true if the queue is empty
func (eq *EventQueue) IsEmpty() bool {
	return len(eq.events) == 0
}

// Len returns the number of events in the queue
func (eq *EventQueue) Len() int {
	return len(eq.events)
}
