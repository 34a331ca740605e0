package db

// Video sources.
const (
	SourceUpload = "upload"
	SourceURL    = "url"
)

// Analysis statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Video is the registry row for a stored video.
type Video struct {
	Name      string
	SizeBytes int64
	Source    string
	SourceURL *string
	Location  string
	// Revision counts saves under this name, starting at 1.
	Revision  int64
	CreatedAt int64
	UpdatedAt int64
}

// Analysis is one labeling run over a video.
type Analysis struct {
	ID            string
	VideoName     string
	Status        string
	Model         *string
	PromptVersion *string
	ResumedFrom   *string
	ResultText    *string
	GroupsDone    int
	LastEndTime   *string
	FPS           *float64
	ErrorCode     *string
	ErrorMessage  *string
	// Run settings. Zero means not recorded.
	GroupSize     int
	NumCams       int
	SampleSeconds float64
	VideoRevision int64
	CreatedAt     int64
	UpdatedAt     int64
}

// Checkpoint is the carried context stored after a labeled group.
type Checkpoint struct {
	AnalysisID  string
	GroupIndex  int
	StartTime   string
	EndTime     string
	ContextText string
	CreatedAt   int64
}
