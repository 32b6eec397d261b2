// Package topic parses the slash-delimited topic names used on the EMS
// tracking bus into typed requests the access control layer can reason about.
package topic

import (
	"strconv"
	"strings"
)

// Kind identifies the channel family a topic belongs to.
type Kind int

const (
	// KindUnknown is returned for any topic outside the taxonomy.
	KindUnknown Kind = iota
	KindSettings
	KindUserProfile
	KindUserError
	KindUserClientStatus
	KindUserAmbulanceData
	KindUserHospitalData
	KindAmbulanceData
	KindHospitalData
	KindHospitalMetadata
	KindHospitalEquipmentData
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindSettings:              "settings",
	KindUserProfile:           "user_profile",
	KindUserError:             "user_error",
	KindUserClientStatus:      "user_client_status",
	KindUserAmbulanceData:     "user_ambulance_data",
	KindUserHospitalData:      "user_hospital_data",
	KindAmbulanceData:         "ambulance_data",
	KindHospitalData:          "hospital_data",
	KindHospitalMetadata:      "hospital_metadata",
	KindHospitalEquipmentData: "hospital_equipment_data",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Request is the parsed form of a topic name. Username, ClientID and
// Equipment are only set for the kinds whose grammar carries them, and
// ResourceID is only set for resource-addressed kinds.
type Request struct {
	Kind       Kind
	ResourceID int
	Username   string
	ClientID   string
	Equipment  string
}

// Parse decodes a topic name into a Request. It is total: anything that does
// not match the taxonomy, including non-integer resource ids, comes back as
// KindUnknown. A leading slash is accepted because the broker plugin forwards
// topics with one. MQTT wildcards are not expanded; '+' and '#' are ordinary
// segments here, so a wildcard in an id position simply fails to parse as an
// id.
func Parse(name string) Request {
	segments := strings.Split(strings.TrimPrefix(name, "/"), "/")

	switch {
	case len(segments) == 1 && segments[0] == "settings":
		return Request{Kind: KindSettings}

	case len(segments) >= 3 && segments[0] == "user":
		return parseUserScoped(segments)

	case len(segments) == 3 && segments[0] == "ambulance" && segments[2] == "data":
		if id, ok := parseID(segments[1]); ok {
			return Request{Kind: KindAmbulanceData, ResourceID: id}
		}

	case len(segments) == 3 && segments[0] == "hospital":
		id, ok := parseID(segments[1])
		if !ok {
			break
		}
		switch segments[2] {
		case "data":
			return Request{Kind: KindHospitalData, ResourceID: id}
		case "metadata":
			return Request{Kind: KindHospitalMetadata, ResourceID: id}
		}

	case len(segments) == 5 && segments[0] == "hospital" &&
		segments[2] == "equipment" && segments[4] == "data":
		if id, ok := parseID(segments[1]); ok {
			return Request{Kind: KindHospitalEquipmentData, ResourceID: id, Equipment: segments[3]}
		}
	}

	return Request{Kind: KindUnknown}
}

// parseUserScoped handles the user/<username>/... sub-grammar. The username
// segment is free-form; empty usernames are rejected so that "user//profile"
// does not parse.
func parseUserScoped(segments []string) Request {
	username := segments[1]
	if username == "" {
		return Request{Kind: KindUnknown}
	}
	rest := segments[2:]

	switch {
	case len(rest) == 1 && rest[0] == "profile":
		return Request{Kind: KindUserProfile, Username: username}

	case len(rest) == 1 && rest[0] == "error":
		return Request{Kind: KindUserError, Username: username}

	case len(rest) == 3 && rest[0] == "client" && rest[2] == "status":
		if rest[1] == "" {
			break
		}
		return Request{Kind: KindUserClientStatus, Username: username, ClientID: rest[1]}

	case len(rest) == 3 && rest[0] == "ambulance" && rest[2] == "data":
		if id, ok := parseID(rest[1]); ok {
			return Request{Kind: KindUserAmbulanceData, Username: username, ResourceID: id}
		}

	case len(rest) == 3 && rest[0] == "hospital" && rest[2] == "data":
		if id, ok := parseID(rest[1]); ok {
			return Request{Kind: KindUserHospitalData, Username: username, ResourceID: id}
		}
	}

	return Request{Kind: KindUnknown}
}

func parseID(segment string) (int, bool) {
	id, err := strconv.Atoi(segment)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
