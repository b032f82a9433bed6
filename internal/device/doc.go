// Package device holds the transport-neutral model shared by the scanner, the
// BLE bridge and the session orchestrator.
//
// It defines:
//   - Transport bit flags and the ConnectionInfo union describing one endpoint
//   - DeviceInfo, the unit passed from discovery to connection
//   - the error taxonomy used across the module
//   - the narrow radio interfaces (Central, Peripheral) implemented by go-ble
//   - the catalog of known dive-computer BLE services
package device
