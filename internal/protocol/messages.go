package protocol

import (
	"encoding/json"
	"strconv"
)

// Version is Archipelago's NetworkVersion.
type Version struct {
	Major int    `json:"major"`
	Minor int    `json:"minor"`
	Build int    `json:"build"`
	Class string `json:"class"`
}

// ClientVersion is the protocol version the bridge announces.
var ClientVersion = Version{Major: 0, Minor: 5, Build: 0, Class: "Version"}

// NetworkItem is an item placed at a location. In ReceivedItems Player is the
// sending slot; in LocationInfo it is the receiving slot.
type NetworkItem struct {
	Item     int64 `json:"item"`
	Location int64 `json:"location"`
	Player   int   `json:"player"`
	Flags    int   `json:"flags"`
}

type NetworkPlayer struct {
	Team  int    `json:"team"`
	Slot  int    `json:"slot"`
	Alias string `json:"alias"`
	Name  string `json:"name"`
}

type NetworkSlot struct {
	Name         string `json:"name"`
	Game         string `json:"game"`
	Type         int    `json:"type"`
	GroupMembers []int  `json:"group_members,omitempty"`
}

// RoomInfo (server -> client), sent right after the socket opens.
type RoomInfo struct {
	Cmd                  string            `json:"cmd"`
	Version              Version           `json:"version"`
	GeneratorVersion     Version           `json:"generator_version"`
	Tags                 []string          `json:"tags"`
	Password             bool              `json:"password"`
	Games                []string          `json:"games"`
	DatapackageChecksums map[string]string `json:"datapackage_checksums,omitempty"`
	SeedName             string            `json:"seed_name"`
	Time                 float64           `json:"time"`
}

// Connect (client -> server).
type Connect struct {
	Cmd           string   `json:"cmd"`
	Password      string   `json:"password"`
	Game          string   `json:"game"`
	Name          string   `json:"name"`
	UUID          string   `json:"uuid"`
	Version       Version  `json:"version"`
	ItemsHandling int      `json:"items_handling"`
	Tags          []string `json:"tags"`
	SlotData      bool     `json:"slot_data"`
}

type ConnectionRefused struct {
	Cmd    string   `json:"cmd"`
	Errors []string `json:"errors,omitempty"`
}

// Connected (server -> client). SlotInfo keys are slot numbers as strings.
type Connected struct {
	Cmd              string                 `json:"cmd"`
	Team             int                    `json:"team"`
	Slot             int                    `json:"slot"`
	Players          []NetworkPlayer        `json:"players"`
	MissingLocations []int64                `json:"missing_locations"`
	CheckedLocations []int64                `json:"checked_locations"`
	SlotData         json.RawMessage        `json:"slot_data,omitempty"`
	SlotInfo         map[string]NetworkSlot `json:"slot_info"`
	HintPoints       int                    `json:"hint_points"`
}

// SlotInfoBySlot converts SlotInfo keys to ints, dropping malformed keys.
func (c Connected) SlotInfoBySlot() map[int]NetworkSlot {
	out := make(map[int]NetworkSlot, len(c.SlotInfo))
	for k, v := range c.SlotInfo {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[n] = v
	}
	return out
}

type ReceivedItems struct {
	Cmd   string        `json:"cmd"`
	Index int           `json:"index"`
	Items []NetworkItem `json:"items"`
}

type LocationInfo struct {
	Cmd       string        `json:"cmd"`
	Locations []NetworkItem `json:"locations"`
}

// Bounced carries a Bounce from another client.
type Bounced struct {
	Cmd   string          `json:"cmd"`
	Games []string        `json:"games,omitempty"`
	Slots []int           `json:"slots,omitempty"`
	Tags  []string        `json:"tags,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (b Bounced) HasTag(tag string) bool {
	for _, t := range b.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// DeathLinkData is the Bounce payload for the DeathLink tag. Source is
// normally a slot name; some clients send their slot number instead.
type DeathLinkData struct {
	Time   float64         `json:"time"`
	Cause  string          `json:"cause,omitempty"`
	Source json.RawMessage `json:"source,omitempty"`
}

// SourceName returns Source when it is a JSON string.
func (d DeathLinkData) SourceName() (string, bool) {
	var s string
	if len(d.Source) == 0 || json.Unmarshal(d.Source, &s) != nil {
		return "", false
	}
	return s, true
}

// SourceSlot returns Source when it is a JSON number.
func (d DeathLinkData) SourceSlot() (int, bool) {
	var n int
	if len(d.Source) == 0 || json.Unmarshal(d.Source, &n) != nil {
		return 0, false
	}
	return n, true
}

type GameData struct {
	ItemNameToID     map[string]int64 `json:"item_name_to_id"`
	LocationNameToID map[string]int64 `json:"location_name_to_id"`
	Checksum         string           `json:"checksum,omitempty"`
}

type DataPackage struct {
	Cmd  string `json:"cmd"`
	Data struct {
		Games map[string]GameData `json:"games"`
	} `json:"data"`
}

type InvalidPacket struct {
	Cmd         string `json:"cmd"`
	Type        string `json:"type"`
	OriginalCmd string `json:"original_cmd,omitempty"`
	Text        string `json:"text"`
}

type ConnectUpdate struct {
	Cmd           string   `json:"cmd"`
	ItemsHandling int      `json:"items_handling"`
	Tags          []string `json:"tags"`
}

type Sync struct {
	Cmd string `json:"cmd"`
}

type LocationChecks struct {
	Cmd       string  `json:"cmd"`
	Locations []int64 `json:"locations"`
}

type LocationScouts struct {
	Cmd          string  `json:"cmd"`
	Locations    []int64 `json:"locations"`
	CreateAsHint int     `json:"create_as_hint"`
}

type StatusUpdate struct {
	Cmd    string `json:"cmd"`
	Status int    `json:"status"`
}

type Bounce struct {
	Cmd   string   `json:"cmd"`
	Games []string `json:"games,omitempty"`
	Slots []int    `json:"slots,omitempty"`
	Tags  []string `json:"tags,omitempty"`
	Data  any      `json:"data"`
}

type GetDataPackage struct {
	Cmd   string   `json:"cmd"`
	Games []string `json:"games,omitempty"`
}
