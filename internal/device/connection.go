package device

import "fmt"

// ConnectionInfo describes one discovered endpoint. It is a closed union: the
// only implementations are the *Info types in this package. A nil
// ConnectionInfo stands for "no endpoint".
type ConnectionInfo interface {
	Transport() Transport
	// ConnectionString returns the address or path used to open the endpoint,
	// or "" when the transport is addressed by ids instead.
	ConnectionString() string
	// DisplayName returns a human readable name for the endpoint.
	DisplayName() string
	String() string

	connectionInfo()
}

type SerialInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type USBInfo struct {
	VendorID   uint16 `json:"vendor_id"`
	ProductID  uint16 `json:"product_id"`
	DevicePath string `json:"device_path,omitempty"`
}

type USBHIDInfo struct {
	VendorID   uint16 `json:"vendor_id"`
	ProductID  uint16 `json:"product_id"`
	DevicePath string `json:"device_path,omitempty"`
}

type BluetoothInfo struct {
	Address       uint64 `json:"address"`
	Name          string `json:"name"`
	AddressString string `json:"address_string"`
}

// BLEInfo is produced by the BLE scanner. ServiceName is the catalog label of
// the service that matched; LocalName is the advertised name, if any.
type BLEInfo struct {
	Address       uint64 `json:"address"`
	LocalName     string `json:"local_name,omitempty"`
	ServiceName   string `json:"service_name"`
	AddressString string `json:"address_string"`
}

type IrDAInfo struct {
	Address uint32 `json:"address"`
	Name    string `json:"name"`
}

func (SerialInfo) connectionInfo()    {}
func (USBInfo) connectionInfo()       {}
func (USBHIDInfo) connectionInfo()    {}
func (BluetoothInfo) connectionInfo() {}
func (BLEInfo) connectionInfo()       {}
func (IrDAInfo) connectionInfo()      {}

func (SerialInfo) Transport() Transport    { return TransportSerial }
func (USBInfo) Transport() Transport       { return TransportUSB }
func (USBHIDInfo) Transport() Transport    { return TransportUSBHID }
func (BluetoothInfo) Transport() Transport { return TransportBluetooth }
func (BLEInfo) Transport() Transport       { return TransportBLE }
func (IrDAInfo) Transport() Transport      { return TransportIrDA }

func (i SerialInfo) ConnectionString() string    { return i.Path }
func (USBInfo) ConnectionString() string         { return "" }
func (USBHIDInfo) ConnectionString() string      { return "" }
func (i BluetoothInfo) ConnectionString() string { return i.AddressString }
func (i BLEInfo) ConnectionString() string       { return i.AddressString }
func (i IrDAInfo) ConnectionString() string      { return fmt.Sprintf("0x%08X", i.Address) }

func (i SerialInfo) DisplayName() string { return i.Name }

func (i USBInfo) DisplayName() string {
	if name, ok := USBDeviceName(i.VendorID, i.ProductID); ok {
		return name
	}
	return fmt.Sprintf("USB Device %04X:%04X", i.VendorID, i.ProductID)
}

func (i USBHIDInfo) DisplayName() string {
	if name, ok := USBDeviceName(i.VendorID, i.ProductID); ok {
		return name
	}
	return fmt.Sprintf("USB HID Device %04X:%04X", i.VendorID, i.ProductID)
}

func (i BluetoothInfo) DisplayName() string { return i.Name }

func (i BLEInfo) DisplayName() string {
	if i.LocalName != "" {
		return i.LocalName + " - " + i.ServiceName
	}
	return i.ServiceName
}

func (i IrDAInfo) DisplayName() string { return i.Name }

func (i SerialInfo) String() string { return fmt.Sprintf("Serial: %s (%s)", i.Name, i.Path) }
func (i USBInfo) String() string    { return fmt.Sprintf("USB: %04X:%04X", i.VendorID, i.ProductID) }
func (i USBHIDInfo) String() string {
	return fmt.Sprintf("USB HID: %04X:%04X", i.VendorID, i.ProductID)
}
func (i BluetoothInfo) String() string {
	return fmt.Sprintf("Bluetooth: %s (%s)", i.Name, i.AddressString)
}
func (i BLEInfo) String() string {
	return fmt.Sprintf("BLE: %s (%s)", i.DisplayName(), i.AddressString)
}
func (i IrDAInfo) String() string { return fmt.Sprintf("IrDA: %s (0x%08X)", i.Name, i.Address) }

// DeviceInfo is the unit handed from discovery to connection.
//
//nolint:revive // DeviceInfo reads better than Info at call sites
type DeviceInfo struct {
	Name       string         `json:"name"`
	Transport  Transport      `json:"transport"`
	Connection ConnectionInfo `json:"connection,omitempty"`
}

func (d DeviceInfo) String() string {
	if d.Connection == nil {
		return d.Name
	}
	return d.Connection.String()
}

// NewDeviceInfo builds a DeviceInfo from a connection, taking the transport
// and name from it.
func NewDeviceInfo(conn ConnectionInfo) DeviceInfo {
	if conn == nil {
		return DeviceInfo{Transport: TransportNone}
	}
	return DeviceInfo{
		Name:       conn.DisplayName(),
		Transport:  conn.Transport(),
		Connection: conn,
	}
}
