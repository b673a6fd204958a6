package crc16

import "testing"

func TestChecksumOfOwnCRCIsZero(t *testing.T) {
	msgs := [][]byte{
		[]byte("hello, palm"),
		{},
		{0xBE, 0xEF, 0xED},
		make([]byte, 300),
	}
	for _, m := range msgs {
		crc := Checksum(m)
		full := append(append([]byte{}, m...), byte(crc>>8), byte(crc))
		if got := Checksum(full); got != 0 {
			t.Errorf("Checksum(m+crc(m)) = %#04x, want 0", got)
		}
	}
}

func TestUpdateIsIncremental(t *testing.T) {
	data := []byte("staged computation across preamble, header, and body")
	whole := Checksum(data)
	staged := Update(Update(Update(0, data[:3]), data[3:10]), data[10:])
	if whole != staged {
		t.Errorf("staged CRC = %#04x, whole CRC = %#04x", staged, whole)
	}
}
