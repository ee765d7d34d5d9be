package l2b

// Instance is the JSON sidecar written next to every generated LP file.
// It keeps the raw coordinates so that solvers which do not read LP files
// (the reference exact TSP solver) can rebuild the problem.
type Instance struct {
	Name    string `json:"name"`
	Comment string `json:"comment"`
	Type    string `json:"type"`

	Dimension       int         `json:"dimension"`
	EdgeWeightType  string      `json:"edge_weight_type"`
	Seed            int64       `json:"seed"`
	Index           int         `json:"index"`
	NodeCoordinates [][]float64 `json:"node_coordinates"`

	Solution *Solution `json:"solution,omitempty"`
}

// Solution is the result of the reference exact solver for an instance.
type Solution struct {
	Cost    float64 `json:"cost"`
	Optimal bool    `json:"optimal"`
	Tour    []int   `json:"tour"`

	Time     string  `json:"time"`
	WallTime float64 `json:"walltime"`
	System   SysInfo `json:"system"`
	Comment  string  `json:"comment"`
}

// SysInfo saves the basic system information
type SysInfo struct {
	Platform string
	CPU      string
	RAM      string
}

const (
	INSTANCE_TSP = "TSP"
	EUC_2D       = "EUC_2D"
	CEIL_2D      = "CEIL_2D"
)
