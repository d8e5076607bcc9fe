package network

import (
	"strings"

	"github.com/vietddude/outbox/internal/core/domain"
)

// Classify derives a quality tier from a raw connectivity event.
//
// Rules, in order:
//   - not connected: offline
//   - connected but internet explicitly unreachable: slow
//   - ethernet: excellent
//   - wifi: by signal strength (>75 excellent, >50 good, >25 moderate, else slow),
//     good when strength is unknown
//   - cellular: 5g excellent, 4g good, 3g moderate, 2g slow, unknown moderate
//   - bluetooth, wimax: moderate
//   - anything else: slow
func Classify(ev domain.ConnectivityEvent) domain.Quality {
	if !ev.IsConnected {
		return domain.QualityOffline
	}
	if domain.ReachabilityFrom(ev.IsInternetReachable) == domain.Unreachable {
		return domain.QualitySlow
	}

	switch ev.Type {
	case domain.TransportEthernet:
		return domain.QualityExcellent
	case domain.TransportWifi:
		return classifyWifi(ev.Details.Strength)
	case domain.TransportCellular:
		return classifyCellular(ev.Details.CellularGeneration)
	case domain.TransportBluetooth, domain.TransportWimax:
		return domain.QualityModerate
	default:
		return domain.QualitySlow
	}
}

func classifyWifi(strength *int) domain.Quality {
	if strength == nil {
		return domain.QualityGood
	}
	switch s := *strength; {
	case s > 75:
		return domain.QualityExcellent
	case s > 50:
		return domain.QualityGood
	case s > 25:
		return domain.QualityModerate
	default:
		return domain.QualitySlow
	}
}

func classifyCellular(generation string) domain.Quality {
	switch strings.ToLower(generation) {
	case "5g":
		return domain.QualityExcellent
	case "4g":
		return domain.QualityGood
	case "3g":
		return domain.QualityModerate
	case "2g":
		return domain.QualitySlow
	default:
		return domain.QualityModerate
	}
}
