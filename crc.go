package mavconform

// crc calculates the X.25 checksum (CRC-16/MCRF4XX) MAVLink uses for frame
// integrity and for the per-message CRC-extra seed.
type crc struct {
	sum uint16
}

func (c *crc) reset() *crc {
	c.sum = 0xFFFF
	return c
}

func (c *crc) pushByte(b byte) *crc {
	tmp := b ^ byte(c.sum&0xFF)
	tmp ^= tmp << 4
	c.sum = (c.sum >> 8) ^ (uint16(tmp) << 8) ^ (uint16(tmp) << 3) ^ (uint16(tmp) >> 4)
	return c
}

func (c *crc) pushBytes(data ...byte) *crc {
	for _, b := range data {
		c.pushByte(b)
	}
	return c
}

func (c *crc) pushString(s string) *crc {
	for i := 0; i < len(s); i++ {
		c.pushByte(s[i])
	}
	return c
}

func (c *crc) value() uint16 {
	return c.sum
}
