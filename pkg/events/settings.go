package events

import "context"

// Settings is the enumeration document published retained on the settings
// channel so clients can render statuses and capabilities without a REST
// round trip.
type Settings struct {
	AmbulanceStatus     map[string]string `json:"ambulance_status"`
	AmbulanceCapability map[string]string `json:"ambulance_capability"`
	EquipmentType       map[string]string `json:"equipment_type"`
}

// DefaultSettings returns the enumerations the fleet understands.
func DefaultSettings() Settings {
	return Settings{
		AmbulanceStatus: map[string]string{
			"UK": "Unknown",
			"AV": "Available",
			"OS": "Out of service",
			"PB": "Patient bound",
			"AP": "At patient",
			"HB": "Hospital bound",
			"AH": "At hospital",
		},
		AmbulanceCapability: map[string]string{
			"B": "Basic",
			"A": "Advanced",
			"R": "Rescue",
		},
		EquipmentType: map[string]string{
			"B": "Boolean",
			"I": "Integer",
			"S": "String",
		},
	}
}

// PublishSettings publishes the settings document retained. Call it once at
// startup when a broker is configured.
func (d *Dispatcher) PublishSettings(ctx context.Context) error {
	return d.publishJSON(ctx, "settings", DefaultSettings())
}
