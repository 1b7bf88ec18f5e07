package flags

// Names of the sentinel entries.
const (
	Victory = "victory"
	Decoy   = "counterfeit medal"
)

// Outbound maps cartridge bits to locations. Names match the apworld
// location names.
var Outbound = MustTable("outbound", []BitFlag{
	{Name: "Springboards", Bit: 0, Offset: 1},
	{Name: "Double Jump", Bit: 1, Offset: 4},
	{Name: "Dive", Bit: 2, Offset: 7},
	{Name: "Key", Bit: 3, Offset: 10},
	{Name: "Starting Medal", Bit: 4, Offset: 0},
	{Name: "Springboards Medal", Bit: 5, Offset: 2},
	{Name: "Lava Medal", Bit: 6, Offset: 9},
	{Name: "Cage Medal", Bit: 7, Offset: 5},
	{Name: "Ice Medal", Bit: 8, Offset: 12},
	{Name: Victory, Bit: 9, Offset: NoOffset},
	{Name: "Enter Crossprings", Bit: 10, Offset: 3},
	{Name: "Enter Upper Ice", Bit: 11, Offset: 6},
	{Name: "Enter Lava", Bit: 12, Offset: 8},
	{Name: "Enter Lower Ice", Bit: 13, Offset: 11},
})

// Inbound maps received items to cartridge bits. Names are already in the
// form shown on the console.
var Inbound = MustTable("inbound", []BitFlag{
	{Name: "springboards", Bit: 0, Offset: 3},
	{Name: "double jump", Bit: 1, Offset: 0},
	{Name: "dive", Bit: 2, Offset: 1},
	{Name: "key", Bit: 3, Offset: 2},
	{Name: "starting medal", Bit: 4, Offset: 4},
	{Name: "springboards medal", Bit: 5, Offset: 5},
	{Name: "lava medal", Bit: 6, Offset: 6},
	{Name: "cage medal", Bit: 7, Offset: 7},
	{Name: "ice medal", Bit: 8, Offset: 8},
	{Name: Decoy, Bit: NoBit, Offset: 9},
})
