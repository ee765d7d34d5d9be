package l2b

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math"
	"regexp"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"
)

// GetEdgeIndex maps the undirected edge {i, j} of an N-node graph to its
// column in a model whose edge variables start at column start and are
// ordered (0,1), (0,2), ..., (1,2), ...
func GetEdgeIndex(i, j, N, start int) int {
	if j < i {
		i, j = j, i
	}
	count := start
	for k := 0; k < i; k++ {
		count += N - 1 - k
	}
	count += j - i - 1
	return count
}

// CalcEdgeDist returns the full distance matrix between the coordinates.
// EUC_2D keeps the exact euclidean distance, CEIL_2D rounds it up.
func CalcEdgeDist(coordinates [][]float64, distType string) [][]float64 {
	n := len(coordinates)
	result := make([][]float64, n)
	for node := 0; node < n; node++ {
		result[node] = make([]float64, n)
	}
	for node := 0; node < n; node++ {
		for node2 := 0; node2 < node; node2++ {
			distance := math.Hypot(coordinates[node][0]-coordinates[node2][0], coordinates[node][1]-coordinates[node2][1])
			if distType == CEIL_2D {
				distance = math.Ceil(distance)
			}
			result[node][node2] = distance
			result[node2][node] = distance
		}
	}
	return result
}

// GetSECs builds one subtour elimination row per subtour: the edges inside
// the subtour may be used at most len(subtour)-1 times.
func GetSECs(subtours [][]int, N int, start int) (secInd [][]int, secVal [][]float64, rhs []float64) {
	for _, stour := range subtours {
		var (
			ind []int
			val []float64
		)
		for i := 0; i < len(stour); i++ {
			for j := i + 1; j < len(stour); j++ {
				ind = append(ind, GetEdgeIndex(stour[i], stour[j], N, start))
				val = append(val, 1.0)
			}
		}
		secInd = append(secInd, ind)
		secVal = append(secVal, val)
		rhs = append(rhs, float64(len(stour)-1))
	}
	return secInd, secVal, rhs
}

// SanitizeJsonArrayLineBreaks puts numeric arrays produced by
// json.MarshalIndent back on a single line.
func SanitizeJsonArrayLineBreaks(json string) string {
	res := json
	var numbers = regexp.MustCompile(`\s*([-]?[0-9]+(\.[0-9]+)?),\s+([-]?[0-9]+(\.[0-9]+)?)(,)?`)
	var brackets = regexp.MustCompile(`\[(([-]?[0-9]+(\.[0-9]+)?,)+[-]?[0-9]+(\.[0-9]+)?)\s+\](,?)(\s+)`)
	for numbers.MatchString(res) {
		res = numbers.ReplaceAllString(res, "$1,$3$5")
	}
	for brackets.MatchString(res) {
		res = brackets.ReplaceAllString(res, "[$1]$5$6")
	}
	return res
}

// ReadInstance loads a JSON instance sidecar.
func ReadInstance(path string) (*Instance, error) {
	instStr, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading instance %s", path)
	}
	var inst Instance
	if err = json.Unmarshal(instStr, &inst); err != nil {
		return nil, errors.Wrapf(err, "parsing instance %s", path)
	}
	return &inst, nil
}

// WriteInstance stores inst as indented JSON with compact coordinate rows.
func WriteInstance(path string, inst *Instance) error {
	jsonInst, err := json.MarshalIndent(inst, "", "\t")
	if err != nil {
		return errors.Wrapf(err, "encoding instance %s", inst.Name)
	}
	jsonInst = []byte(SanitizeJsonArrayLineBreaks(string(jsonInst)))
	if err = ioutil.WriteFile(path, jsonInst, 0644); err != nil {
		return errors.Wrapf(err, "writing instance %s", path)
	}
	return nil
}

// SystemInfo describes the machine a run is executed on. Missing pieces
// are left empty rather than failing the run.
func SystemInfo() SysInfo {
	var info SysInfo
	if hostStat, err := host.Info(); err == nil {
		info.Platform = hostStat.Platform
	}
	if cpuStat, err := cpu.Info(); err == nil && len(cpuStat) > 0 {
		info.CPU = cpuStat[0].ModelName
	}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		info.RAM = fmt.Sprintf("%d GB", vmStat.Total/1024/1024/1024)
	}
	return info
}
