package can

import (
	"fmt"
)

type NewInterfaceFunc func(channel string) (Driver, error)

var interfaceRegistry = make(map[string]NewInterfaceFunc)

// Register a new CAN driver type
// This should be called inside an init() function of plugin
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	interfaceRegistry[interfaceType] = newInterface
}

// Create a new CAN driver with given interface
// Currently supported : socketcan, socketcanv2, virtual, virtualcan
func NewDriver(canInterface string, channel string) (Driver, error) {
	createInterface, ok := interfaceRegistry[canInterface]
	if !ok {
		return nil, fmt.Errorf("unsupported interface : %v", canInterface)
	}
	return createInterface(channel)
}
