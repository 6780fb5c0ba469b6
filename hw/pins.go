package hw

import (
	"fmt"
	"strings"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"i4.energy/across/fieldctl/irrigation"
)

// FilterCount is the number of backflush filters.
const FilterCount = 3

// PinNames names the host pins wired to the controller. An empty name
// leaves the input or output unconnected.
type PinNames struct {
	Motor       string
	Valves      [irrigation.FieldCount]string
	Filters     [FilterCount]string
	Fertigation string
	Phases      [3]string
	RTCBattery  string
	Moisture    [irrigation.FieldCount]string
}

// DefaultPinNames is the relay hat wiring on a Raspberry Pi header.
func DefaultPinNames() PinNames {
	return PinNames{
		Motor: "GPIO4",
		Valves: [irrigation.FieldCount]string{
			"GPIO5", "GPIO6", "GPIO12", "GPIO13", "GPIO16", "GPIO19",
			"GPIO20", "GPIO21", "GPIO22", "GPIO23", "GPIO24", "GPIO25",
		},
		Filters:     [FilterCount]string{"GPIO26", "GPIO27", "GPIO17"},
		Fertigation: "GPIO18",
		Phases:      [3]string{"GPIO7", "GPIO8", "GPIO9"},
		RTCBattery:  "GPIO10",
		Moisture:    [irrigation.FieldCount]string{"GPIO11"},
	}
}

// Init loads the host drivers. It must run before Lookup.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("init host drivers: %w", err)
	}
	return nil
}

// Lookup resolves names against the host pin registry.
func Lookup(names PinNames) (Pins, error) {
	var missing []string
	byName := func(name string) gpio.PinIO {
		if name == "" {
			return nil
		}
		p := gpioreg.ByName(name)
		if p == nil {
			missing = append(missing, name)
		}
		return p
	}

	var pins Pins
	pins.Motor = byName(names.Motor)
	for i, name := range names.Valves {
		pins.Valves[i] = byName(name)
	}
	for i, name := range names.Filters {
		pins.Filters[i] = byName(name)
	}
	pins.Fertigation = byName(names.Fertigation)
	for i, name := range names.Phases {
		pins.Phases[i] = byName(name)
	}
	pins.RTCBattery = byName(names.RTCBattery)
	for i, name := range names.Moisture {
		pins.Moisture[i] = byName(name)
	}
	if len(missing) > 0 {
		return Pins{}, fmt.Errorf("%w: %s", ErrNoPin, strings.Join(missing, ", "))
	}
	return pins, nil
}
