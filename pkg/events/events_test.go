package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emstrack/mqttgate/pkg/store"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (f *fakePublisher) Close() {}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeReader struct {
	ambulances map[int64]*store.Ambulance
	hospitals  map[int64]*store.Hospital
	equipment  map[int64][]store.HospitalEquipment
}

func (f *fakeReader) GetAmbulance(_ context.Context, id int64) (*store.Ambulance, error) {
	if a, ok := f.ambulances[id]; ok {
		return a, nil
	}
	return nil, store.ErrResourceNotFound
}

func (f *fakeReader) GetHospital(_ context.Context, id int64) (*store.Hospital, error) {
	if h, ok := f.hospitals[id]; ok {
		return h, nil
	}
	return nil, store.ErrResourceNotFound
}

func (f *fakeReader) ListHospitalEquipment(_ context.Context, id int64) ([]store.HospitalEquipment, error) {
	return f.equipment[id], nil
}

func newTestReader() *fakeReader {
	return &fakeReader{
		ambulances: map[int64]*store.Ambulance{
			7: {ID: 7, Identifier: "BA-17", Capability: "B", Status: "AV"},
		},
		hospitals: map[int64]*store.Hospital{
			2: {ID: 2, Name: "General", Address: "1 Main St"},
		},
		equipment: map[int64][]store.HospitalEquipment{
			2: {
				{HospitalID: 2, Name: "beds", EType: "I", Value: "12", Quantity: 12},
				{HospitalID: 2, Name: "x-ray", EType: "B", Value: "True", Quantity: 1},
			},
		},
	}
}

func TestDispatcherAmbulanceEvent(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(newTestReader(), pub, nil)

	err := d.handle(context.Background(), NewResourceChanged(KindAmbulance, 7, ""))
	require.NoError(t, err)
	require.Len(t, pub.messages, 1)

	msg := pub.messages[0]
	assert.Equal(t, "ambulance/7/data", msg.topic)
	assert.True(t, msg.retained)

	var a store.Ambulance
	require.NoError(t, json.Unmarshal(msg.payload, &a))
	assert.Equal(t, "BA-17", a.Identifier)
	assert.Equal(t, "AV", a.Status)
}

func TestDispatcherHospitalEvent(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(newTestReader(), pub, nil)

	err := d.handle(context.Background(), NewResourceChanged(KindHospital, 2, ""))
	require.NoError(t, err)
	require.Len(t, pub.messages, 2)

	assert.Equal(t, "hospital/2/data", pub.messages[0].topic)
	assert.Equal(t, "hospital/2/metadata", pub.messages[1].topic)
	for _, msg := range pub.messages {
		assert.True(t, msg.retained)
	}

	var items []store.HospitalEquipment
	require.NoError(t, json.Unmarshal(pub.messages[1].payload, &items))
	require.Len(t, items, 2)
	assert.Equal(t, "beds", items[0].Name)
}

func TestDispatcherEquipmentEvent(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(newTestReader(), pub, nil)

	// A named event republishes just that item.
	err := d.handle(context.Background(), NewResourceChanged(KindHospitalEquipment, 2, "beds"))
	require.NoError(t, err)
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "hospital/2/equipment/beds/data", pub.messages[0].topic)

	// An unnamed event republishes every item.
	pub.messages = nil
	err = d.handle(context.Background(), NewResourceChanged(KindHospitalEquipment, 2, ""))
	require.NoError(t, err)
	require.Len(t, pub.messages, 2)
	assert.Equal(t, "hospital/2/equipment/beds/data", pub.messages[0].topic)
	assert.Equal(t, "hospital/2/equipment/x-ray/data", pub.messages[1].topic)
}

func TestDispatcherUnknownKind(t *testing.T) {
	d := NewDispatcher(newTestReader(), &fakePublisher{}, nil)
	err := d.handle(context.Background(), ResourceChanged{Kind: "volcano", ResourceID: 1})
	assert.Error(t, err)
}

func TestDispatcherMissingResource(t *testing.T) {
	d := NewDispatcher(newTestReader(), &fakePublisher{}, nil)
	err := d.handle(context.Background(), NewResourceChanged(KindAmbulance, 999, ""))
	assert.ErrorIs(t, err, store.ErrResourceNotFound)
}

func TestDispatcherRun(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(newTestReader(), pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.NoError(t, d.Enqueue(NewResourceChanged(KindAmbulance, 7, "")))

	assert.Eventually(t, func() bool {
		return pub.count() == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop on cancel")
	}
}

type flakyPublisher struct {
	mu       sync.Mutex
	failures int
	messages []published
}

func (f *flakyPublisher) Publish(_ context.Context, topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("broker down")
	}
	f.messages = append(f.messages, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (f *flakyPublisher) Close() {}

func (f *flakyPublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func TestDispatcherRunSurvivesPublishFailure(t *testing.T) {
	pub := &flakyPublisher{failures: 1}
	d := NewDispatcher(newTestReader(), pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// A failed publish must not stop the loop.
	require.NoError(t, d.Enqueue(NewResourceChanged(KindAmbulance, 7, "")))
	require.NoError(t, d.Enqueue(NewResourceChanged(KindAmbulance, 7, "")))

	assert.Eventually(t, func() bool {
		return pub.count() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestEnqueueFullQueue(t *testing.T) {
	d := NewDispatcher(newTestReader(), &fakePublisher{}, nil)

	// Not running, so the buffer fills up.
	var err error
	for i := 0; i < 100; i++ {
		if err = d.Enqueue(NewResourceChanged(KindAmbulance, 7, "")); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestPublishSettings(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(newTestReader(), pub, nil)

	require.NoError(t, d.PublishSettings(context.Background()))
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "settings", pub.messages[0].topic)
	assert.True(t, pub.messages[0].retained)

	var settings Settings
	require.NoError(t, json.Unmarshal(pub.messages[0].payload, &settings))
	assert.Equal(t, "Available", settings.AmbulanceStatus["AV"])
	assert.Equal(t, "Rescue", settings.AmbulanceCapability["R"])
	assert.Equal(t, "Boolean", settings.EquipmentType["B"])
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindAmbulance.Valid())
	assert.True(t, KindHospital.Valid())
	assert.True(t, KindHospitalEquipment.Valid())
	assert.False(t, Kind("volcano").Valid())
	assert.False(t, Kind("").Valid())
}

func TestNewResourceChanged(t *testing.T) {
	e := NewResourceChanged(KindHospital, 2, "")
	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, KindHospital, e.Kind)
	assert.WithinDuration(t, time.Now(), e.OccurredAt, time.Minute)

	other := NewResourceChanged(KindHospital, 2, "")
	assert.NotEqual(t, e.EventID, other.EventID)
}