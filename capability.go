package sc

import (
	"fmt"
	"strconv"
)

// Level is a platform API level.
type Level int

const (
	Level29 Level = 29
	Level30 Level = 30
	Level31 Level = 31
	Level33 Level = 33
)

// MinLevel is the lowest API level that provides surface control.
const MinLevel = Level29

func (l Level) String() string {
	return strconv.FormatInt(int64(l), 10)
}

// Feature is a group of operations that only exists from some API level
// on.
type Feature int

const (
	// FeatureCore covers everything available at MinLevel.
	FeatureCore Feature = iota
	FeatureFrameRate
	FeatureOnCommit
	FeatureClone
	FeatureCrop
	FeaturePosition
	FeatureBufferTransform
	FeatureScale
	FeatureFrameRateStrategy
	FeatureBackPressure
	FeatureFrameTimeline
	featureCount
)

var features = [featureCount]struct {
	name  string
	level Level
}{
	FeatureCore:              {"core", Level29},
	FeatureFrameRate:         {"frame rate", Level30},
	FeatureOnCommit:          {"on-commit callback", Level31},
	FeatureClone:             {"surface clone", Level31},
	FeatureCrop:              {"crop", Level31},
	FeaturePosition:          {"position", Level31},
	FeatureBufferTransform:   {"buffer transform", Level31},
	FeatureScale:             {"scale", Level31},
	FeatureFrameRateStrategy: {"frame rate change strategy", Level31},
	FeatureBackPressure:      {"back pressure", Level31},
	FeatureFrameTimeline:     {"frame timeline", Level33},
}

func (f Feature) String() string {
	if (f >= 0) && (f < featureCount) {
		return features[f].name
	}
	return "feature(" + strconv.FormatInt(int64(f), 10) + ")"
}

// Level returns the API level that introduced f.
func (f Feature) Level() Level {
	return features[f].level
}

// Capabilities is the set of features enabled for one API level. It is
// computed once when a Session is opened.
type Capabilities struct {
	level   Level
	enabled [featureCount]bool
}

// NewCapabilities computes the features enabled at level.
func NewCapabilities(level Level) (Capabilities, error) {
	if level < MinLevel {
		return Capabilities{}, fmt.Errorf("%w: API level %v is below %v", ErrUnsupported, level, MinLevel)
	}

	c := Capabilities{level: level}
	for f := range featureCount {
		c.enabled[f] = features[f].level <= level
	}
	return c, nil
}

func (c Capabilities) Level() Level {
	return c.level
}

func (c Capabilities) Has(f Feature) bool {
	return (f >= 0) && (f < featureCount) && c.enabled[f]
}

// Features lists every enabled feature.
func (c Capabilities) Features() []Feature {
	r := make([]Feature, 0, featureCount)
	for f := range featureCount {
		if c.enabled[f] {
			r = append(r, f)
		}
	}
	return r
}

func (c Capabilities) check(f Feature) error {
	if c.Has(f) {
		return nil
	}
	return fmt.Errorf("%w: %v requires API level %v, have %v", ErrUnsupported, f, f.Level(), c.level)
}
