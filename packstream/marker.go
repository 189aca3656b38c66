package packstream

// Marker bytes from the PackStream wire format. Ranges are documented with
// their low/high bound; single-byte markers are documented with their exact
// value.
const (
	markerNull  byte = 0xC0
	markerFalse byte = 0xC2
	markerTrue  byte = 0xC3
	markerFloat byte = 0xC1

	// Tiny ints occupy the full byte range outside the marker bytes above:
	// 0x00-0x7F for non-negative values, 0xF0-0xFF for -16..-1.
	tinyIntPosMax byte = 0x7F
	tinyIntNegMin byte = 0xF0

	markerInt8  byte = 0xC8
	markerInt16 byte = 0xC9
	markerInt32 byte = 0xCA
	markerInt64 byte = 0xCB

	markerBytes8  byte = 0xCC
	markerBytes16 byte = 0xCD
	markerBytes32 byte = 0xCE

	tinyStringMin byte = 0x80
	tinyStringMax byte = 0x8F
	markerString8  byte = 0xD0
	markerString16 byte = 0xD1
	markerString32 byte = 0xD2

	tinyListMin byte = 0x90
	tinyListMax byte = 0x9F
	markerList8  byte = 0xD4
	markerList16 byte = 0xD5
	markerList32 byte = 0xD6

	tinyDictMin byte = 0xA0
	tinyDictMax byte = 0xAF
	markerDict8  byte = 0xD8
	markerDict16 byte = 0xD9
	markerDict32 byte = 0xDA

	tinyStructMin byte = 0xB0
	tinyStructMax byte = 0xBF
)

// MaxStructFields is the largest field count a Structure marker can encode:
// the low nibble of a 0xB0-0xBF marker.
const MaxStructFields = 15

// MaxTag is the largest legal structure tag (spec.md §4.1: "Tag range is
// 0..127").
const MaxTag = 127
