package sb

// Default bounds. Every operation is computationally bounded by them.
const (
	DefaultMaxChunksPerRecord   = 128
	DefaultMaxTasksPerOwner     = 1000
	DefaultMaxBoxesPerOwner     = 100
	DefaultMaxSubmissionsPerBox = 1000
	DefaultMaxTitleLength       = 256
	DefaultMaxTags              = 16
)

// Limits bounds record sizes and per-owner quotas.
// Quotas bind live counts, not sequence lengths: a deleted slot frees quota
// but is never reclaimed.
type Limits struct {
	MaxChunksPerRecord   int
	MaxTasksPerOwner     int64
	MaxBoxesPerOwner     int64
	MaxSubmissionsPerBox int64
	MaxTitleLength       int
	MaxTags              int
}

// DefaultLimits returns the standard bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxChunksPerRecord:   DefaultMaxChunksPerRecord,
		MaxTasksPerOwner:     DefaultMaxTasksPerOwner,
		MaxBoxesPerOwner:     DefaultMaxBoxesPerOwner,
		MaxSubmissionsPerBox: DefaultMaxSubmissionsPerBox,
		MaxTitleLength:       DefaultMaxTitleLength,
		MaxTags:              DefaultMaxTags,
	}
}

// WithDefaults fills every non-positive field from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.MaxChunksPerRecord <= 0 {
		l.MaxChunksPerRecord = d.MaxChunksPerRecord
	}
	if l.MaxTasksPerOwner <= 0 {
		l.MaxTasksPerOwner = d.MaxTasksPerOwner
	}
	if l.MaxBoxesPerOwner <= 0 {
		l.MaxBoxesPerOwner = d.MaxBoxesPerOwner
	}
	if l.MaxSubmissionsPerBox <= 0 {
		l.MaxSubmissionsPerBox = d.MaxSubmissionsPerBox
	}
	if l.MaxTitleLength <= 0 {
		l.MaxTitleLength = d.MaxTitleLength
	}
	if l.MaxTags <= 0 {
		l.MaxTags = d.MaxTags
	}
	return l
}
