// Package avc provides the minimal H.264 Annex B awareness the splicer
// needs: locating NAL units in a PES payload and classifying the types that
// matter for clean splice points (IDR slices and the SPS/PPS parameter sets
// a decoder needs to restart).
package avc

// H.264 NAL unit type constants as defined in ITU-T H.264 Table 7-1.
const (
	NALTypeSlice      = 1
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeFillerData = 12
)

// NALUnit is a parsed H.264 NAL unit.
type NALUnit struct {
	Type byte   // 5-bit NAL type
	Data []byte // raw NAL data including the header byte, without start code
}

// ParseAnnexB splits an Annex B byte stream into NAL units. Both 3-byte
// (0x000001) and 4-byte (0x00000001) start codes are recognized.
func ParseAnnexB(data []byte) []NALUnit {
	var units []NALUnit

	start := -1
	i := 0
	for i+2 < len(data) {
		if data[i] != 0x00 || data[i+1] != 0x00 {
			i++
			continue
		}
		codeLen := 0
		if data[i+2] == 0x01 {
			codeLen = 3
		} else if i+3 < len(data) && data[i+2] == 0x00 && data[i+3] == 0x01 {
			codeLen = 4
		}
		if codeLen == 0 {
			i++
			continue
		}
		if start >= 0 {
			units = appendNAL(units, data[start:i])
		}
		i += codeLen
		start = i
	}
	if start >= 0 {
		units = appendNAL(units, data[start:])
	}

	return units
}

func appendNAL(units []NALUnit, nal []byte) []NALUnit {
	// Trailing zero bytes belong to the next start code, not the NAL.
	for len(nal) > 0 && nal[len(nal)-1] == 0x00 {
		nal = nal[:len(nal)-1]
	}
	if len(nal) == 0 {
		return units
	}
	return append(units, NALUnit{Type: nal[0] & 0x1F, Data: nal})
}

// ContainsIDR reports whether the Annex B stream holds an IDR slice.
func ContainsIDR(data []byte) bool {
	for _, u := range ParseAnnexB(data) {
		if u.Type == NALTypeIDR {
			return true
		}
	}
	return false
}
