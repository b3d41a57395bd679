package cli

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/waypointhq/waypoint/internal/journey"
)

// Error codes surfaced in CLI output.
const (
	ErrCodeNotFound    = "E001"
	ErrCodeNoFiles     = "E002"
	ErrCodeLoadFailed  = "E003"
	ErrCodeBuildFailed = "E004"
	ErrCodeInvalid     = "E005"
)

// LoadError is a journey-definition loading failure with a stable code.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadJourneys loads and validates journey definitions from the CUE
// files in dir. Definitions live under the top-level "journey" struct,
// keyed by journey id:
//
//	journey: j_welcome: {
//		workspace_id: "ws_1"
//		name:         "Welcome"
//		steps: [...]
//	}
//
// The field label is the journey id; per-step journey and workspace ids
// are backfilled from the journey, so definitions do not repeat them.
func LoadJourneys(dir string) ([]*journey.Journey, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("journeys directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing journeys directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	journeysVal := value.LookupPath(cue.ParsePath("journey"))
	if !journeysVal.Exists() {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: "no journey definitions found"}
	}

	iter, err := journeysVal.Fields()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("iterating journeys: %v", err)}
	}

	var journeys []*journey.Journey
	for iter.Next() {
		j, err := decodeJourney(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		journeys = append(journeys, j)
	}

	sort.Slice(journeys, func(i, k int) bool { return journeys[i].ID < journeys[k].ID })
	return journeys, nil
}

// decodeJourney converts one CUE journey value into a validated
// definition.
func decodeJourney(id string, v cue.Value) (*journey.Journey, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("journey %s: encoding: %v", id, err)}
	}

	j := &journey.Journey{}
	if err := json.Unmarshal(data, j); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("journey %s: %v", id, err)}
	}
	if j.ID == "" {
		j.ID = id
	}

	for i := range j.Steps {
		if j.Steps[i].JourneyID == "" {
			j.Steps[i].JourneyID = j.ID
		}
		if j.Steps[i].WorkspaceID == "" {
			j.Steps[i].WorkspaceID = j.WorkspaceID
		}
	}

	if err := journey.Validate(j); err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: err.Error()}
	}
	return j, nil
}

// findCUEFiles returns the .cue files directly inside dir.
func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
