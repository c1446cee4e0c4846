package bridge

import (
	"time"

	"github.com/victorjacobs/go-vallox/bus"
	"github.com/victorjacobs/go-vallox/vallox"
)

// Bus is the part of the bus session the bridge drives.
type Bus interface {
	Write(id string, value vallox.Value) error
	RequestFullPass()
	Events() <-chan bus.Event
}

// Recorder is told about everything the bridge publishes or rejects.
type Recorder interface {
	StatePublished(entity string)
	CommandHandled(entity string, err error)
	AvailabilityChanged(online bool)
}

type nopRecorder struct{}

func (nopRecorder) StatePublished(string)        {}
func (nopRecorder) CommandHandled(string, error) {}
func (nopRecorder) AvailabilityChanged(bool)     {}

// errorEvent is published on the error topic whenever a command or request
// fails.
type errorEvent struct {
	Entity    string    `json:"entity,omitempty"`
	Operation string    `json:"operation"`
	Payload   string    `json:"payload,omitempty"`
	Error     string    `json:"error"`
	Time      time.Time `json:"time"`
}
