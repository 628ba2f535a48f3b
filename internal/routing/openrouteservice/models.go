package openrouteservice

import "github.com/paulmach/orb"

// Wire types of the ORS v2 directions endpoint (JSON format).

type directionsBody struct {
	// Coordinates are [lon, lat] pairs.
	Coordinates  []orb.Point   `json:"coordinates"`
	Alternatives *alternatives `json:"alternative_routes,omitempty"`
	Instructions bool          `json:"instructions"`
	Geometry     bool          `json:"geometry"`
	Units        string        `json:"units"`
	Language     string        `json:"language"`
}

type alternatives struct {
	// TargetCount includes the primary route.
	TargetCount int `json:"target_count"`
}

type directionsReply struct {
	Routes []replyRoute `json:"routes"`
}

type replyRoute struct {
	Summary struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"summary"`
	Segments []replySegment `json:"segments"`
	BBox     []float64      `json:"bbox"`
	Geometry string         `json:"geometry"`
}

// replySegment covers the stretch between two consecutive coordinates.
type replySegment struct {
	Distance float64     `json:"distance"`
	Duration float64     `json:"duration"`
	Steps    []replyStep `json:"steps"`
}

type replyStep struct {
	Distance    float64 `json:"distance"`
	Duration    float64 `json:"duration"`
	Type        int     `json:"type"`
	Instruction string  `json:"instruction"`
	Name        string  `json:"name"`
	ExitNumber  int     `json:"exit_number"`
	WayPoints   []int   `json:"way_points"`
}

type errorReply struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Directions error codes.
const (
	codeInvalidParameter = 2003
	codePointNotFound    = 2010
	codeRouteNotFound    = 2009
	codeLimitExceeded    = 2004
)
