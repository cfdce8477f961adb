// Package goldcode generates the bipolar pseudorandom ranging sequences
// used by both the acquisition search and the tracking correlators.
package goldcode

import (
	"errors"
	"fmt"
)

const (
	// Length is the ranging code period in chips.
	Length = 1023
	// ChipRate is the nominal chipping rate in Hz.
	ChipRate = 1.023e6

	regLen = 13
	seqLen = 1<<regLen - 1 // 8191
)

// ErrInvalidSatelliteID is returned for a PRN outside 1..MaxPRN.
var ErrInvalidSatelliteID = errors.New("goldcode: satellite id out of range")

// MaxPRN is the highest satellite id with a delay assignment.
const MaxPRN = len(delayTable)

// delayTable maps PRN-1 to the chip delay applied to the second register.
var delayTable = [...]int{
	5, 6, 7, 8, 17, 18, 139, 140, 141, 251, 252, 254,
}

// Generate returns the 1023-chip bipolar ranging code for prn.
// The result is freshly allocated on every call and safe to modify.
func Generate(prn int) ([]int16, error) {
	if prn < 1 || prn > MaxPRN {
		return nil, fmt.Errorf("%w: prn %d", ErrInvalidSatelliteID, prn)
	}

	g1 := runRegister([]int{1, 3, 4, 13})
	g2 := runRegister([]int{1, 5, 6, 7, 9, 10, 12, 13})

	delay := delayTable[prn-1]
	code := make([]int16, Length)
	for j := 0; j < Length; j++ {
		chip := g1[j%seqLen] ^ g2[(j+delay)%seqLen]
		code[j] = 1 - 2*int16(chip) // 0 -> +1, 1 -> -1
	}
	return code, nil
}

// runRegister clocks a 13-stage LFSR seeded with all ones for one full
// 8191-step period, emitting the last stage each step. Tap positions are
// 1-indexed from the register input.
func runRegister(taps []int) []uint8 {
	var reg [regLen]uint8
	for i := range reg {
		reg[i] = 1
	}
	out := make([]uint8, seqLen)
	for i := 0; i < seqLen; i++ {
		out[i] = reg[regLen-1]
		var fb uint8
		for _, t := range taps {
			fb ^= reg[t-1]
		}
		copy(reg[1:], reg[:regLen-1])
		reg[0] = fb
	}
	return out
}
