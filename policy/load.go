package policy

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadYAML reads a policy document. Keys are option tags; unset options keep their
// defaults. A top-level "parent" key is not supported: use Inherit.
//
//	RetransmissionInterval: 3000
//	ExponentialBackoff: true
//	InactivityTimeout: 5
//	InactivityTimeoutMeasure: minutes
//	MessageTypesToDrop: [CreateSequence]
func LoadYAML(r io.Reader) (*Policy, error) {
	raw := map[string]interface{}{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}

	// measures first so that counts keep their unit regardless of key order
	tags := make([]string, 0, len(raw))
	for tag := range raw {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		mi, mj := isMeasure(tags[i]), isMeasure(tags[j])
		if mi != mj {
			return mi
		}
		return tags[i] < tags[j]
	})

	p := Default()
	for _, tag := range tags {
		if err := Apply(p, tag, yamlValue(raw[tag])); err != nil {
			return nil, err
		}
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

// LoadFile reads a policy document from path.
func LoadFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy file: %w", err)
	}
	defer f.Close()

	return LoadYAML(f)
}

func isMeasure(tag string) bool {
	return strings.HasSuffix(normalizeTag(tag), "measure")
}

func yamlValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}
