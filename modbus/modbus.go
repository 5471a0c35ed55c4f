package modbus

// Function codes.
const (
	FuncReadCoils              = 0x01
	FuncReadDiscreteInputs     = 0x02
	FuncReadHoldingRegisters   = 0x03
	FuncReadInputRegisters     = 0x04
	FuncWriteSingleCoil        = 0x05
	FuncWriteSingleRegister    = 0x06
	FuncWriteMultipleCoils     = 0x0F
	FuncWriteMultipleRegisters = 0x10
)

// exceptionBit marks a response function code as an exception response.
const exceptionBit = 0x80

// Exception codes.
const (
	ExceptionIllegalFunction    = 0x01
	ExceptionIllegalDataAddress = 0x02
	ExceptionIllegalDataValue   = 0x03
)

// Protocol limits per the Modbus application protocol specification.
const (
	// MaxReadBits is the maximum coil/discrete-input count per read.
	MaxReadBits = 2000
	// MaxReadRegisters is the maximum register count per read.
	MaxReadRegisters = 125
	// MaxWriteBits is the maximum coil count per multiple write.
	MaxWriteBits = 1968
	// MaxWriteRegisters is the maximum register count per multiple write.
	MaxWriteRegisters = 123

	// MinUnitID and MaxUnitID bound the addressable unit identifiers;
	// 0 is broadcast and 248-255 are reserved.
	MinUnitID = 1
	MaxUnitID = 247
)

// Coil values on the wire for function code 0x05.
const (
	coilOn  = 0xFF00
	coilOff = 0x0000
)
