package libpisp

// PiSPVariant describes one hardware implementation of the PiSP: how
// many front and back ends it has, what their branches can do, and the
// version codes by which the kernel driver reports them. The zero value
// is an invalid variant with no front or back ends.
type PiSPVariant struct {
	name      string
	feVersion uint32
	beVersion uint32
	numFE     int
	numBE     int

	numFEBranches        []int
	feStatsMaxWidth      []int
	feDownscaler         [][]bool
	feDownscalerMaxWidth [][]int

	beMaxTileWidth int
	numBEBranches  []int
	beIntegral     [][]bool
	beDownscaler   [][]bool
	beRGB32        bool
}

// Name returns the variant's name, or "INVALID" for the zero value.
func (v *PiSPVariant) Name() string {
	if v.name == "" {
		return "INVALID"
	}
	return v.name
}

// FrontEndVersion returns the front end hardware version code.
func (v *PiSPVariant) FrontEndVersion() uint32 { return v.feVersion }

// BackEndVersion returns the back end hardware version code.
func (v *PiSPVariant) BackEndVersion() uint32 { return v.beVersion }

// NumFrontEnds returns the number of front end instances.
func (v *PiSPVariant) NumFrontEnds() int { return v.numFE }

// NumBackEnds returns the number of back end instances.
func (v *PiSPVariant) NumBackEnds() int { return v.numBE }

// FrontEndNumBranches returns the branch count of front end id, or 0
// if id is out of range.
func (v *PiSPVariant) FrontEndNumBranches(id int) int {
	if id < 0 || id >= v.numFE {
		return 0
	}
	return v.numFEBranches[id]
}

// FrontEndStatsMaxWidth returns the widest image front end id can
// gather statistics for, or 0 if id is out of range.
func (v *PiSPVariant) FrontEndStatsMaxWidth(id int) int {
	if id < 0 || id >= v.numFE {
		return 0
	}
	return v.feStatsMaxWidth[id]
}

// FrontEndDownscalerAvailable reports whether the given front end
// branch has a downscaler.
func (v *PiSPVariant) FrontEndDownscalerAvailable(id, branch int) bool {
	if id < 0 || id >= v.numFE || branch < 0 || branch >= v.numFEBranches[id] {
		return false
	}
	return v.feDownscaler[id][branch]
}

// FrontEndDownscalerMaxWidth returns the widest image the given front
// end branch can downscale, or 0 out of range.
func (v *PiSPVariant) FrontEndDownscalerMaxWidth(id, branch int) int {
	if id < 0 || id >= v.numFE || branch < 0 || branch >= v.numFEBranches[id] {
		return 0
	}
	return v.feDownscalerMaxWidth[id][branch]
}

// BackEndNumBranches returns the branch count of back end id, or 0 if
// id is out of range.
func (v *PiSPVariant) BackEndNumBranches(id int) int {
	if id < 0 || id >= v.numBE {
		return 0
	}
	return v.numBEBranches[id]
}

// BackEndMaxTileWidth returns the widest tile back end id supports,
// or 0 if id is out of range.
func (v *PiSPVariant) BackEndMaxTileWidth(id int) int {
	if id < 0 || id >= v.numBE {
		return 0
	}
	return v.beMaxTileWidth
}

// BackEndIntegralImage reports whether the given back end branch can
// produce integral images.
func (v *PiSPVariant) BackEndIntegralImage(id, branch int) bool {
	if id < 0 || id >= v.numBE || branch < 0 || branch >= v.numBEBranches[id] {
		return false
	}
	return v.beIntegral[id][branch]
}

// BackEndDownscalerAvailable reports whether the given back end branch
// has a downscaler.
func (v *PiSPVariant) BackEndDownscalerAvailable(id, branch int) bool {
	if id < 0 || id >= v.numBE || branch < 0 || branch >= v.numBEBranches[id] {
		return false
	}
	return v.beDownscaler[id][branch]
}

// BackEndRGB32Supported reports whether back end id can write RGB32
// output formats.
func (v *PiSPVariant) BackEndRGB32Supported(id int) bool {
	if id < 0 || id >= v.numBE {
		return false
	}
	return v.beRGB32
}

// BCM2712C0 is the PiSP as found in the C0 stepping of BCM2712
// (Raspberry Pi 5).
var BCM2712C0 = PiSPVariant{
	name:                 "BCM2712_C0",
	feVersion:            0x00114666,
	beVersion:            0x02252700,
	numFE:                2,
	numBE:                1,
	numFEBranches:        []int{2, 2},
	feStatsMaxWidth:      []int{6144, 6144},
	feDownscaler:         [][]bool{{true, true}, {true, true}},
	feDownscalerMaxWidth: [][]int{{6144, 4096}, {6144, 4096}},
	beMaxTileWidth:       640,
	numBEBranches:        []int{2},
	beIntegral:           [][]bool{{false, false}},
	beDownscaler:         [][]bool{{false, true}},
	beRGB32:              false,
}

// BCM2712D0 is the PiSP as found in the D0 stepping of BCM2712. It
// differs from C0 in supporting RGB32 output formats.
var BCM2712D0 = PiSPVariant{
	name:                 "BCM2712_D0",
	feVersion:            0x00114666,
	beVersion:            0x02252701,
	numFE:                2,
	numBE:                1,
	numFEBranches:        []int{2, 2},
	feStatsMaxWidth:      []int{6144, 6144},
	feDownscaler:         [][]bool{{true, true}, {true, true}},
	feDownscalerMaxWidth: [][]int{{6144, 4096}, {6144, 4096}},
	beMaxTileWidth:       640,
	numBEBranches:        []int{2},
	beIntegral:           [][]bool{{false, false}},
	beDownscaler:         [][]bool{{false, true}},
	beRGB32:              true,
}

// Variants returns all known hardware variants.
func Variants() []PiSPVariant {
	return []PiSPVariant{BCM2712C0, BCM2712D0}
}

// LookupVariant finds the variant with the given front and back end
// version codes. An unknown pair yields the invalid variant.
func LookupVariant(feVersion, beVersion uint32) PiSPVariant {
	for _, v := range Variants() {
		if v.feVersion == feVersion && v.beVersion == beVersion {
			return v
		}
	}
	return PiSPVariant{}
}
