package sync

import "time"

// Status is the outcome of a single transfer
type Status int

const (
	// StatusTransferred means the file was uploaded or downloaded
	StatusTransferred Status = iota
	// StatusSkipped means the decision chain gave a reason not to push
	StatusSkipped
	// StatusNotApplicable means the node cannot be transferred (folders,
	// excluded files)
	StatusNotApplicable
	// StatusNotModified means the remote reported no change since the last
	// pull
	StatusNotModified
	// StatusFailed means the transfer returned an error
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusTransferred:
		return "transferred"
	case StatusSkipped:
		return "skipped"
	case StatusNotApplicable:
		return "not applicable"
	case StatusNotModified:
		return "not modified"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Skip reasons reported by the push decision chain
const (
	ReasonRoot             = "is root folder"
	ReasonMetadataFile     = "is a metadata file"
	ReasonDeclarations     = "is in declarations"
	ReasonExternalModel    = "is an external model"
	ReasonIgnored          = "is ignored"
	ReasonInfoObjects      = "is in info/objects"
	ReasonFolder           = "is a folder"
	ReasonIntegrityMatches = "integrity matches"
)

// Result describes what happened to one node
type Result struct {
	Path   string // relative to the script root
	URL    string
	Status Status
	Reason string
	Hash   string
	Err    error
}

// Report summarises a batch
type Report struct {
	Results     []Result
	Transferred int
	Skipped     int
	Failed      int
	Duration    time.Duration
}

// Err returns the first failure in the batch, if any
func (r *Report) Err() error {
	for _, res := range r.Results {
		if res.Err != nil {
			return res.Err
		}
	}
	return nil
}

// Add records one result and updates the counters
func (r *Report) Add(res Result) {
	r.Results = append(r.Results, res)
	switch res.Status {
	case StatusTransferred:
		r.Transferred++
	case StatusFailed:
		r.Failed++
	case StatusSkipped, StatusNotApplicable, StatusNotModified:
		r.Skipped++
	}
}
