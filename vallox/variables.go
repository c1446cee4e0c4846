package vallox

// Registers of the Digit SE mainboard.
const (
	RegisterIO08          byte = 0x08
	RegisterFanSpeed      byte = 0x29
	RegisterCO2High       byte = 0x2B
	RegisterCO2Low        byte = 0x2C
	RegisterRH1           byte = 0x2F
	RegisterRH2           byte = 0x30
	RegisterTempOutside   byte = 0x32
	RegisterTempExhaust   byte = 0x33
	RegisterTempInside    byte = 0x34
	RegisterTempIncoming  byte = 0x35
	RegisterFaultCode     byte = 0x36
	RegisterFlags06       byte = 0x71
	RegisterStatus        byte = 0xA3
	RegisterHeatingTarget byte = 0xA4
	RegisterServicePeriod byte = 0xA6
	RegisterDefaultSpeed  byte = 0xA9
	RegisterProgram       byte = 0xAA
	RegisterServiceCount  byte = 0xAB
)

// fanSpeeds maps the fan speed bit patterns to the speed shown on the panel.
var fanSpeeds = map[byte]string{
	0x01: "1",
	0x03: "2",
	0x07: "3",
	0x0F: "4",
	0x1F: "5",
	0x3F: "6",
	0x7F: "7",
	0xFF: "8",
}

var faultCodes = map[byte]string{
	0x00: "none",
	0x05: "supply_air_sensor",
	0x06: "co2_alarm",
	0x07: "outdoor_sensor",
	0x08: "extract_air_sensor",
	0x09: "water_coil_frost",
	0x0A: "exhaust_air_sensor",
}

// ntcTemperatures converts the raw NTC sensor reading to degrees Celsius.
var ntcTemperatures = [256]float64{
	-74, -70, -66, -62, -59, -56, -54, -52, -50, -48, // 0x00
	-47, -46, -44, -43, -42, -41, -40, -39, -38, -37, // 0x0a
	-36, -35, -34, -33, -33, -32, -31, -30, -30, -29, // 0x14
	-28, -28, -27, -27, -26, -25, -25, -24, -24, -23, // 0x1e
	-23, -22, -22, -21, -21, -20, -20, -19, -19, -19, // 0x28
	-18, -18, -17, -17, -16, -16, -16, -15, -15, -14, // 0x32
	-14, -14, -13, -13, -12, -12, -12, -11, -11, -11, // 0x3c
	-10, -10, -9, -9, -9, -8, -8, -8, -7, -7, // 0x46
	-7, -6, -6, -6, -5, -5, -5, -4, -4, -4, // 0x50
	-3, -3, -3, -2, -2, -2, -1, -1, -1, -1, // 0x5a
	0, 0, 0, 1, 1, 1, 2, 2, 2, 3, // 0x64
	3, 3, 4, 4, 4, 5, 5, 5, 5, 6, // 0x6e
	6, 6, 7, 7, 7, 8, 8, 8, 9, 9, // 0x78
	9, 10, 10, 10, 11, 11, 11, 12, 12, 12, // 0x82
	13, 13, 13, 14, 14, 14, 15, 15, 15, 16, // 0x8c
	16, 16, 17, 17, 18, 18, 18, 19, 19, 19, // 0x96
	20, 20, 21, 21, 21, 22, 22, 22, 23, 23, // 0xa0
	24, 24, 24, 25, 25, 26, 26, 27, 27, 27, // 0xaa
	28, 28, 29, 29, 30, 30, 31, 31, 32, 32, // 0xb4
	33, 33, 34, 34, 35, 35, 36, 36, 37, 37, // 0xbe
	38, 38, 39, 40, 40, 41, 41, 42, 43, 43, // 0xc8
	44, 45, 45, 46, 47, 48, 48, 49, 50, 51, // 0xd2
	52, 53, 53, 54, 55, 56, 57, 59, 60, 61, // 0xdc
	62, 63, 65, 66, 68, 69, 71, 73, 75, 77, // 0xe6
	79, 81, 82, 86, 90, 93, 97, 100, 100, 100, // 0xf0
	100, 100, 100, 100, 100, 100, // 0xfa
}

func temperature(id, name string, register byte) Variable {
	return Variable{
		ID:          id,
		Name:        name,
		Register:    register,
		Kind:        Numeric,
		Curve:       &ntcTemperatures,
		Min:         -74,
		Max:         100,
		ReadOnly:    true,
		Entity:      Sensor,
		Unit:        "°C",
		DeviceClass: "temperature",
	}
}

func humidity(id, name string, register byte) Variable {
	return Variable{
		ID:          id,
		Name:        name,
		Register:    register,
		Kind:        Numeric,
		Scale:       1 / 2.04,
		Offset:      -51 / 2.04,
		Min:         0,
		Max:         100,
		ReadOnly:    true,
		Entity:      Sensor,
		Unit:        "%",
		DeviceClass: "humidity",
	}
}

func flag(id, name string, register, mask byte) Variable {
	return Variable{
		ID:       id,
		Name:     name,
		Register: register,
		Kind:     Bit,
		Mask:     mask,
		ReadOnly: true,
		Entity:   BinarySensor,
	}
}

func toggle(id, name string, register, mask byte) Variable {
	v := flag(id, name, register, mask)
	v.ReadOnly = false
	v.Entity = Switch
	return v
}

// Variables is the Digit SE variable table.
func Variables() []Variable {
	fault := flag("fault", "Fault", RegisterStatus, 0x40)
	fault.DeviceClass = "problem"
	filter := flag("filter_guard", "Filter guard", RegisterStatus, 0x10)
	filter.DeviceClass = "problem"
	service := flag("service_needed", "Service needed", RegisterStatus, 0x80)
	service.DeviceClass = "problem"

	boost := toggle("boost", "Boost/fireplace", RegisterFlags06, 0x40)
	boost.WriteMask = 0x20
	boost.Momentary = true
	boost.Icon = "mdi:fireplace"

	return []Variable{
		toggle("power", "Power", RegisterStatus, 0x01),
		flag("co2_mode", "CO2 mode", RegisterStatus, 0x02),
		toggle("rh_mode", "RH mode", RegisterStatus, 0x04),
		toggle("heating_mode", "Heating mode", RegisterStatus, 0x08),
		filter,
		flag("heating", "Heating", RegisterStatus, 0x20),
		fault,
		service,

		flag("summer_mode", "Summer mode", RegisterIO08, 0x02),
		flag("error_relay", "Error relay", RegisterIO08, 0x04),
		flag("motor_in", "Supply fan", RegisterIO08, 0x08),
		flag("front_heating", "Preheating", RegisterIO08, 0x10),
		flag("motor_out", "Exhaust fan", RegisterIO08, 0x20),
		flag("extra_func", "Extra function", RegisterIO08, 0x40),

		boost,
		flag("boost_switch_type", "Switch is boost", RegisterProgram, 0x20),

		{
			ID:       "fan_speed",
			Name:     "Fan speed",
			Register: RegisterFanSpeed,
			Kind:     Enumerated,
			Labels:   fanSpeeds,
			Entity:   Select,
			Icon:     "mdi:fan",
		},
		{
			ID:       "default_fan_speed",
			Name:     "Default fan speed",
			Register: RegisterDefaultSpeed,
			Kind:     Enumerated,
			Labels:   fanSpeeds,
			Entity:   Select,
			Icon:     "mdi:fan",
		},

		temperature("temperature_outside", "Outside temperature", RegisterTempOutside),
		temperature("temperature_exhaust", "Exhaust temperature", RegisterTempExhaust),
		temperature("temperature_inside", "Inside temperature", RegisterTempInside),
		temperature("temperature_incoming", "Incoming temperature", RegisterTempIncoming),
		{
			ID:          "heating_target",
			Name:        "Heating target",
			Register:    RegisterHeatingTarget,
			Kind:        Numeric,
			Curve:       &ntcTemperatures,
			Min:         10,
			Max:         27,
			Entity:      NumberEntity,
			Unit:        "°C",
			DeviceClass: "temperature",
		},

		humidity("rh1", "Humidity sensor 1", RegisterRH1),
		humidity("rh2", "Humidity sensor 2", RegisterRH2),
		{
			ID:          "co2",
			Name:        "CO2",
			Register:    RegisterCO2High,
			LowRegister: RegisterCO2Low,
			Kind:        Numeric,
			Scale:       1,
			Min:         0,
			Max:         5000,
			ReadOnly:    true,
			Entity:      Sensor,
			Unit:        "ppm",
			DeviceClass: "carbon_dioxide",
		},

		{
			ID:       "service_period",
			Name:     "Service period",
			Register: RegisterServicePeriod,
			Kind:     Numeric,
			Scale:    1,
			Min:      1,
			Max:      15,
			Entity:   NumberEntity,
			Unit:     "months",
			Icon:     "mdi:calendar-clock",
		},
		{
			ID:       "service_counter",
			Name:     "Months since service",
			Register: RegisterServiceCount,
			Kind:     Numeric,
			Scale:    1,
			Min:      0,
			Max:      255,
			Entity:   NumberEntity,
			Unit:     "months",
			Icon:     "mdi:counter",
		},
		{
			ID:          "fault_code",
			Name:        "Fault code",
			Register:    RegisterFaultCode,
			Kind:        Enumerated,
			Labels:      faultCodes,
			ReadOnly:    true,
			Entity:      Sensor,
			DeviceClass: "enum",
		},
	}
}

// DefaultRegistry returns the registry for the Digit SE table.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Variables()...)
	if err != nil {
		panic(err)
	}
	return r
}
