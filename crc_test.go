package mavconform

import (
	"testing"
)

func TestCRC(t *testing.T) {
	var sum crc
	sum.reset().pushString("123456789")

	// CRC-16/MCRF4XX check value.
	if 0x6F91 != sum.value() {
		t.Fatalf("crc expected %v, actual %v", 0x6F91, sum.value())
	}
}

func TestCRCChaining(t *testing.T) {
	var a, b crc
	a.reset().pushByte('1').pushBytes('2', '3').pushString("456789")
	b.reset().pushString("123456789")

	if a.value() != b.value() {
		t.Fatalf("crc expected %v, actual %v", b.value(), a.value())
	}
}
