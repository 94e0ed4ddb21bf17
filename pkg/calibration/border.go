package calibration

// MaxOutput is the upper bound of both output axes (a DMX channel byte).
const MaxOutput = 255

// borderOffsets are the raw fixture offsets per state. Border subtracts
// them from MaxOutput to get the guide marker position.
var borderOffsets = map[State][2]int{
	Initial: {128, 150},
	Center:  {128, 150},
	Right:   {76, 150},
	Down:    {128, 220},
	Left:    {180, 150},
	Up:      {128, 50},
	Done:    {128, 150},
}

// Border returns the fixed reference position of the fixture for a state.
// It does not depend on any recorded calibration values: the same table
// scales Position and places the guide marker while a state is calibrated.
func Border(state State) (x, y int) {
	offset, ok := borderOffsets[state]
	if !ok {
		offset = borderOffsets[Center]
	}
	return MaxOutput - offset[0], MaxOutput - offset[1]
}
