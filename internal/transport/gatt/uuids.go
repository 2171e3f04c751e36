package gatt

// Service and characteristic UUIDs exposed by the pressure instruments.
// The 16-bit identifiers are Bluetooth SIG assigned numbers; the vendor
// service carries the command and stream channels.
const (
	genericAccessService     = "1800"
	deviceNameCharacteristic = "2a00"

	deviceInfoService              = "180a"
	modelNumberCharacteristic      = "2a24"
	serialNumberCharacteristic     = "2a25"
	firmwareRevisionCharacteristic = "2a26"

	benchService          = "b2d60100a94c4c96b0e5f2b1dd0a3f10"
	controlCharacteristic = "b2d60101a94c4c96b0e5f2b1dd0a3f10"
	streamCharacteristic  = "b2d60102a94c4c96b0e5f2b1dd0a3f10"
)
