package gatt

import (
	"fmt"

	bt "github.com/fako1024/gatt"

	"github.com/pressbench/pressbench-core/internal/transport"
)

// endpoint binds a bench endpoint name to its discovered characteristic.
// Metadata characteristics carry variable-length strings and are read with
// the long-read procedure.
type endpoint struct {
	name string
	long bool
	char *bt.Characteristic
}

// ID returns the endpoint's name for error messages and logs.
func (e *endpoint) ID() string { return e.name }

// resolve asserts a handle back to this adapter's concrete endpoint.
func resolve(ep transport.Endpoint) (*endpoint, error) {
	if ep == nil {
		return nil, transport.ErrEndpointNotFound
	}
	e, ok := ep.(*endpoint)
	if !ok {
		return nil, fmt.Errorf("%w: foreign endpoint %q", transport.ErrEndpointNotFound, ep.ID())
	}
	return e, nil
}

// discoverEndpoints walks the instrument's GATT table and maps the known
// services to bench endpoints. Missing metadata characteristics are
// tolerated; a missing control or stream channel is not.
func discoverEndpoints(p bt.Peripheral, logger Logger) (*transport.Endpoints, error) {
	services, err := p.DiscoverServices([]bt.UUID{
		bt.MustParseUUID(genericAccessService),
		bt.MustParseUUID(deviceInfoService),
		bt.MustParseUUID(benchService),
	})
	if err != nil {
		return nil, fmt.Errorf("discovering services: %w", err)
	}

	eps := &transport.Endpoints{}
	for _, s := range services {
		switch s.UUID().String() {
		case benchService:
			cs, err := p.DiscoverCharacteristics([]bt.UUID{
				bt.MustParseUUID(controlCharacteristic),
				bt.MustParseUUID(streamCharacteristic),
			}, s)
			if err != nil {
				return nil, fmt.Errorf("discovering bench characteristics: %w", err)
			}
			for _, c := range cs {
				switch c.UUID().String() {
				case controlCharacteristic:
					eps.Control = &endpoint{name: "control", char: c}
				case streamCharacteristic:
					eps.Stream = &endpoint{name: "stream", char: c}
				}
			}

		case deviceInfoService:
			cs, err := p.DiscoverCharacteristics([]bt.UUID{
				bt.MustParseUUID(modelNumberCharacteristic),
				bt.MustParseUUID(serialNumberCharacteristic),
				bt.MustParseUUID(firmwareRevisionCharacteristic),
			}, s)
			if err != nil {
				logger.Warn("device info discovery failed", "device", p.ID(), "error", err)
				continue
			}
			for _, c := range cs {
				switch c.UUID().String() {
				case modelNumberCharacteristic:
					eps.ModelNumber = &endpoint{name: "model-number", long: true, char: c}
				case serialNumberCharacteristic:
					eps.SerialNumber = &endpoint{name: "serial-number", long: true, char: c}
				case firmwareRevisionCharacteristic:
					eps.FirmwareVersion = &endpoint{name: "firmware-revision", long: true, char: c}
				}
			}

		case genericAccessService:
			cs, err := p.DiscoverCharacteristics([]bt.UUID{
				bt.MustParseUUID(deviceNameCharacteristic),
			}, s)
			if err != nil {
				logger.Warn("generic access discovery failed", "device", p.ID(), "error", err)
				continue
			}
			for _, c := range cs {
				if c.UUID().String() == deviceNameCharacteristic {
					eps.DeviceName = &endpoint{name: "device-name", long: true, char: c}
				}
			}
		}
	}

	if eps.Control == nil || eps.Stream == nil {
		return nil, fmt.Errorf("%w: instrument lacks control or stream channel", transport.ErrEndpointNotFound)
	}
	return eps, nil
}
