package provider

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/trailpay/platform/internal/domain"
)

// TrailFile is the TOML form of a trail used for imports and offline simulation.
//
//	title = "Knots"
//	value = 150
//	currency = "USD"
//	suggested-tip = 500
//
//	[[step]]
//	kind = "video"
//	title = "Bowline"
//	duration = 120.0
type TrailFile struct {
	ID           string          `toml:"id"`
	CreatorID    string          `toml:"creator-id"`
	Title        string          `toml:"title"`
	Value        int64           `toml:"value"`
	Currency     string          `toml:"currency"`
	SuggestedTip int64           `toml:"suggested-tip"`
	Steps        []TrailFileStep `toml:"step"`
}

// TrailFileStep maps one [[step]] table.
type TrailFileStep struct {
	Kind     string   `toml:"kind"`
	Title    string   `toml:"title"`
	VideoURL string   `toml:"video-url"`
	Duration *float64 `toml:"duration"`
}

// LoadTrailFile reads and validates a trail from a TOML file.
func LoadTrailFile(path string) (*domain.Trail, error) {
	if path == "" {
		return nil, fmt.Errorf("trail file path is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trail file: %w", err)
	}
	defer f.Close()
	return DecodeTrail(f)
}

// DecodeTrail parses TOML from r into a validated trail. A trail without an id gets one
// derived from its title so repeated imports update the same row.
func DecodeTrail(r io.Reader) (*domain.Trail, error) {
	var tf TrailFile
	md, err := toml.NewDecoder(r).Decode(&tf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode trail: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown trail keys: %v", undecoded)
	}
	return tf.Trail()
}

// Trail converts the file form into a domain trail.
func (tf TrailFile) Trail() (*domain.Trail, error) {
	t := &domain.Trail{
		Title:        tf.Title,
		TrailValue:   tf.Value,
		Currency:     strings.ToUpper(tf.Currency),
		SuggestedTip: tf.SuggestedTip,
	}
	if t.Currency == "" {
		t.Currency = "USD"
	}

	var err error
	if tf.ID != "" {
		if t.ID, err = uuid.Parse(tf.ID); err != nil {
			return nil, fmt.Errorf("invalid trail id: %w", err)
		}
	} else {
		t.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("trailpay:trail:"+tf.Title))
	}
	if tf.CreatorID != "" {
		if t.CreatorID, err = uuid.Parse(tf.CreatorID); err != nil {
			return nil, fmt.Errorf("invalid creator id: %w", err)
		}
	}

	for i, s := range tf.Steps {
		kind := domain.StepKind(strings.ToLower(s.Kind))
		if kind == "" {
			kind = domain.StepKindVideo
		}
		t.Steps = append(t.Steps, domain.Step{
			ID:           uuid.NewSHA1(t.ID, []byte(fmt.Sprintf("step:%d", i))),
			Kind:         kind,
			Title:        s.Title,
			VideoURL:     s.VideoURL,
			DurationHint: s.Duration,
		})
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
