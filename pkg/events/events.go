// Package events carries resource change notifications out to the message
// bus. The administrative API enqueues a ResourceChanged event after a
// database write; the dispatcher reads the current resource state and
// publishes it retained so clients joining later still see it. The
// authorization core never publishes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/emstrack/mqttgate/pkg/observability"
	"github.com/emstrack/mqttgate/pkg/store"
)

// Kind names the resource a change event refers to.
type Kind string

const (
	KindAmbulance         Kind = "ambulance"
	KindHospital          Kind = "hospital"
	KindHospitalEquipment Kind = "hospital_equipment"
)

// Valid reports whether k is a known resource kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAmbulance, KindHospital, KindHospitalEquipment:
		return true
	}
	return false
}

// ResourceChanged is the domain event emitted after a resource write.
type ResourceChanged struct {
	EventID    string    `json:"event_id"`
	Kind       Kind      `json:"kind"`
	ResourceID int64     `json:"resource_id"`
	// Equipment narrows a hospital_equipment event to one item; empty
	// republishes every item of the hospital.
	Equipment  string    `json:"equipment,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewResourceChanged builds an event with a fresh id and timestamp.
func NewResourceChanged(kind Kind, resourceID int64, equipment string) ResourceChanged {
	return ResourceChanged{
		EventID:    uuid.New().String(),
		Kind:       kind,
		ResourceID: resourceID,
		Equipment:  equipment,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher sends a payload to one message bus channel.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
	Close()
}

// ResourceReader provides the current resource state for publication.
// *store.Store satisfies it.
type ResourceReader interface {
	GetAmbulance(ctx context.Context, id int64) (*store.Ambulance, error)
	GetHospital(ctx context.Context, id int64) (*store.Hospital, error)
	ListHospitalEquipment(ctx context.Context, hospitalID int64) ([]store.HospitalEquipment, error)
}

// ErrQueueFull is returned by Enqueue when the dispatcher cannot keep up.
var ErrQueueFull = fmt.Errorf("event queue is full")

// Dispatcher consumes ResourceChanged events and publishes retained
// resource state. Run it on its own goroutine.
type Dispatcher struct {
	reader    ResourceReader
	publisher Publisher
	log       *observability.Logger
	ch        chan ResourceChanged
}

// NewDispatcher creates a dispatcher with a bounded queue.
func NewDispatcher(reader ResourceReader, publisher Publisher, log *observability.Logger) *Dispatcher {
	if log == nil {
		log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Dispatcher{
		reader:    reader,
		publisher: publisher,
		log:       log,
		ch:        make(chan ResourceChanged, 64),
	}
}

// Enqueue hands an event to the dispatcher without blocking.
func (d *Dispatcher) Enqueue(e ResourceChanged) error {
	select {
	case d.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run processes events until ctx is cancelled. Publish failures are logged
// and the event dropped; the retained state heals on the next change.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.ch:
			if err := d.handle(ctx, e); err != nil {
				d.log.WithError(err).
					WithField("event_id", e.EventID).
					WithField("kind", string(e.Kind)).
					Warn("failed to publish resource update")
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, e ResourceChanged) error {
	switch e.Kind {
	case KindAmbulance:
		return d.publishAmbulance(ctx, e.ResourceID)
	case KindHospital:
		return d.publishHospital(ctx, e.ResourceID)
	case KindHospitalEquipment:
		return d.publishEquipment(ctx, e.ResourceID, e.Equipment)
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
}

func (d *Dispatcher) publishAmbulance(ctx context.Context, id int64) error {
	ambulance, err := d.reader.GetAmbulance(ctx, id)
	if err != nil {
		return err
	}
	return d.publishJSON(ctx, fmt.Sprintf("ambulance/%d/data", id), ambulance)
}

func (d *Dispatcher) publishHospital(ctx context.Context, id int64) error {
	hospital, err := d.reader.GetHospital(ctx, id)
	if err != nil {
		return err
	}
	if err := d.publishJSON(ctx, fmt.Sprintf("hospital/%d/data", id), hospital); err != nil {
		return err
	}

	items, err := d.reader.ListHospitalEquipment(ctx, id)
	if err != nil {
		return err
	}
	// The metadata channel lists which equipment channels exist.
	return d.publishJSON(ctx, fmt.Sprintf("hospital/%d/metadata", id), items)
}

func (d *Dispatcher) publishEquipment(ctx context.Context, hospitalID int64, name string) error {
	items, err := d.reader.ListHospitalEquipment(ctx, hospitalID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if name != "" && item.Name != name {
			continue
		}
		topic := fmt.Sprintf("hospital/%d/equipment/%s/data", hospitalID, item.Name)
		if err := d.publishJSON(ctx, topic, item); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) publishJSON(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}
	return d.publisher.Publish(ctx, topic, payload, true)
}
