package libdc

// Ioctl request encoding: direction in bits 30-31, payload size in bits
// 16-29, type in bits 8-15 and number in bits 0-7.
const (
	ioctlDirRead  uint32 = 1
	ioctlDirWrite uint32 = 2

	// IoctlSizeVariable marks requests whose payload size is given by the buffer.
	IoctlSizeVariable uint32 = 0

	ioctlTypeBLE uint32 = 'b'
)

// BLE ioctl requests.
const (
	IoctlBLEGetName             = ioctlDirRead<<30 | IoctlSizeVariable<<16 | ioctlTypeBLE<<8 | 0
	IoctlBLEGetPincode          = ioctlDirRead<<30 | IoctlSizeVariable<<16 | ioctlTypeBLE<<8 | 1
	IoctlBLEGetAccessCode       = ioctlDirRead<<30 | IoctlSizeVariable<<16 | ioctlTypeBLE<<8 | 2
	IoctlBLESetAccessCode       = ioctlDirWrite<<30 | IoctlSizeVariable<<16 | ioctlTypeBLE<<8 | 2
	IoctlBLECharacteristicRead  = ioctlDirRead<<30 | IoctlSizeVariable<<16 | ioctlTypeBLE<<8 | 3
	IoctlBLECharacteristicWrite = ioctlDirWrite<<30 | IoctlSizeVariable<<16 | ioctlTypeBLE<<8 | 3
)

// IoctlDirection returns the direction bits of a request: 0 none, 1 read, 2 write.
func IoctlDirection(request uint32) uint32 {
	return request >> 30
}

// IoctlType returns the type byte of a request ('b' for BLE requests).
func IoctlType(request uint32) byte {
	return byte(request >> 8)
}
