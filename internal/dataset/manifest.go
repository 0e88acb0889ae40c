// Package dataset assembles labeled training samples from a manifest and
// splits them into stratified train and validation sets.
package dataset

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/forgery-api/internal/errs"
	"github.com/Brownie44l1/forgery-api/internal/storage"
)

// Label is the binary class of a sample.
type Label int

const (
	Authentic Label = 0
	Tampered  Label = 1
)

func (l Label) String() string {
	switch l {
	case Authentic:
		return "authentic"
	case Tampered:
		return "tampered"
	default:
		return fmt.Sprintf("label(%d)", int(l))
	}
}

// UnmarshalYAML accepts 0/1 or the names "authentic"/"tampered".
func (l *Label) UnmarshalYAML(value *yaml.Node) error {
	switch strings.ToLower(strings.TrimSpace(value.Value)) {
	case "0", "authentic", "au":
		*l = Authentic
	case "1", "tampered", "tp":
		*l = Tampered
	default:
		return fmt.Errorf("line %d: unknown label %q", value.Line, value.Value)
	}
	return nil
}

// Entry maps one stored image to its label.
type Entry struct {
	Path  string `yaml:"path"`
	Label Label  `yaml:"label"`
}

// Manifest is the explicit list of training images.
type Manifest struct {
	Entries []Entry `yaml:"entries"`
}

// ManifestFromDirs labels every object under authenticDir as Authentic and
// every object under tamperedDir as Tampered.
func ManifestFromDirs(ctx context.Context, store storage.Store, authenticDir, tamperedDir string) (Manifest, error) {
	var m Manifest
	for _, dir := range []struct {
		path  string
		label Label
	}{
		{authenticDir, Authentic},
		{tamperedDir, Tampered},
	} {
		keys, err := store.List(ctx, dir.path)
		if err != nil {
			return Manifest{}, errs.E(errs.KindInvalidArgument, "manifest", err)
		}
		for _, k := range keys {
			m.Entries = append(m.Entries, Entry{Path: k, Label: dir.label})
		}
	}
	return m, nil
}

// LoadManifest parses a YAML manifest:
//
//	entries:
//	  - path: casia/Au/Au_ani_0001.jpg
//	    label: authentic
//	  - path: casia/Tp/Tp_D_CND_M_N_ani00018.tif
//	    label: 1
func LoadManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, errs.E(errs.KindInvalidArgument, "manifest", fmt.Errorf("failed to parse manifest: %w", err))
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate rejects empty paths and duplicate entries.
func (m Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Entries))
	for i, e := range m.Entries {
		if e.Path == "" {
			return errs.Errorf(errs.KindInvalidArgument, "manifest", "entry %d has an empty path", i)
		}
		if e.Label != Authentic && e.Label != Tampered {
			return errs.Errorf(errs.KindInvalidArgument, "manifest", "entry %d has invalid label %d", i, e.Label)
		}
		if _, dup := seen[e.Path]; dup {
			return errs.Errorf(errs.KindInvalidArgument, "manifest", "duplicate entry %q", e.Path)
		}
		seen[e.Path] = struct{}{}
	}
	return nil
}

// Counts returns the number of entries per label.
func (m Manifest) Counts() map[Label]int {
	counts := map[Label]int{Authentic: 0, Tampered: 0}
	for _, e := range m.Entries {
		counts[e.Label]++
	}
	return counts
}
