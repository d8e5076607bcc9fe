package domain

import "time"

// Quality is a coarse classification of network usability.
type Quality string

const (
	QualityOffline   Quality = "offline"
	QualitySlow      Quality = "slow"
	QualityModerate  Quality = "moderate"
	QualityGood      Quality = "good"
	QualityExcellent Quality = "excellent"
)

// Score maps a quality tier to 0 (offline) .. 4 (excellent).
func (q Quality) Score() int {
	switch q {
	case QualitySlow:
		return 1
	case QualityModerate:
		return 2
	case QualityGood:
		return 3
	case QualityExcellent:
		return 4
	}
	return 0
}

// TransportType identifies the active link.
type TransportType string

const (
	TransportNone      TransportType = "none"
	TransportUnknown   TransportType = "unknown"
	TransportWifi      TransportType = "wifi"
	TransportCellular  TransportType = "cellular"
	TransportEthernet  TransportType = "ethernet"
	TransportBluetooth TransportType = "bluetooth"
	TransportWimax     TransportType = "wimax"
	TransportVPN       TransportType = "vpn"
	TransportOther     TransportType = "other"
)

// Reachability is a tri-state internet reachability flag.
type Reachability int

const (
	ReachabilityUnknown Reachability = iota
	Reachable
	Unreachable
)

func (r Reachability) String() string {
	switch r {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	}
	return "unknown"
}

// ReachabilityFrom converts an optional bool into a Reachability.
func ReachabilityFrom(v *bool) Reachability {
	if v == nil {
		return ReachabilityUnknown
	}
	if *v {
		return Reachable
	}
	return Unreachable
}

// TransportDetails carries transport-specific metadata.
type TransportDetails struct {
	// Strength is the wifi signal strength in 0..100, nil when unavailable.
	Strength *int `json:"strength,omitempty"`
	// CellularGeneration is "2g", "3g", "4g", "5g" or empty.
	CellularGeneration string `json:"cellular_generation,omitempty"`
	SSID               string `json:"ssid,omitempty"`
	Carrier            string `json:"carrier,omitempty"`
	Interface          string `json:"interface,omitempty"`
}

// ConnectivityEvent is a raw event from a connectivity source.
type ConnectivityEvent struct {
	IsConnected         bool             `json:"is_connected"`
	IsInternetReachable *bool            `json:"is_internet_reachable,omitempty"`
	Type                TransportType    `json:"type"`
	Details             TransportDetails `json:"details"`
}

// NetworkState is the classified view of the latest connectivity event.
type NetworkState struct {
	IsConnected         bool             `json:"is_connected"`
	IsInternetReachable Reachability     `json:"is_internet_reachable"`
	TransportType       TransportType    `json:"transport_type"`
	Quality             Quality          `json:"quality"`
	LastChanged         time.Time        `json:"last_changed"`
	Details             TransportDetails `json:"details"`
}

// SameAs reports whether two states describe the same observable link,
// ignoring LastChanged.
func (s NetworkState) SameAs(o NetworkState) bool {
	return s.IsConnected == o.IsConnected &&
		s.IsInternetReachable == o.IsInternetReachable &&
		s.TransportType == o.TransportType &&
		s.Quality == o.Quality
}
