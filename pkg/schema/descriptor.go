package schema

import (
	"encoding/json"
	"fmt"

	"pc-pipeline/pkg/pcerror"
)

// The descriptor is the serialized form of a packed schema stored in the
// format catalog. Metadata carries per-schema annotations such as the
// nominal compression preference.
type descriptor struct {
	Dimensions []descriptorDim   `json:"dimensions"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type descriptorDim struct {
	Name     string `json:"name"`
	Size     uint32 `json:"size"`
	Kind     string `json:"kind"`
	Position int    `json:"position"`
}

// CompressionKey is the metadata key carrying the compression preference.
const CompressionKey = "compression"

// MarshalDescriptor serializes a schema for catalog storage. The compression
// annotation is recorded in the descriptor metadata when non-empty.
func MarshalDescriptor(s *Schema, compression string) (string, error) {
	desc := descriptor{Dimensions: make([]descriptorDim, 0, s.Len())}
	for _, d := range s.Dimensions() {
		desc.Dimensions = append(desc.Dimensions, descriptorDim{
			Name:     d.Name,
			Size:     d.Size,
			Kind:     d.Kind.String(),
			Position: d.Position,
		})
	}
	if compression != "" {
		desc.Metadata = map[string]string{CompressionKey: compression}
	}
	out, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema descriptor: %w", err)
	}
	return string(out), nil
}

// ParseDescriptor rebuilds a schema and its metadata from descriptor text.
func ParseDescriptor(text string) (*Schema, map[string]string, error) {
	var desc descriptor
	if err := json.Unmarshal([]byte(text), &desc); err != nil {
		return nil, nil, fmt.Errorf("%w: malformed schema descriptor: %v", pcerror.ErrFormat, err)
	}
	s := New()
	for _, dd := range desc.Dimensions {
		kind, err := ParseKind(dd.Kind)
		if err != nil {
			return nil, nil, err
		}
		d := Dimension{Name: dd.Name, Size: dd.Size, Kind: kind, Parent: -1}
		if err := s.Append(d); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", pcerror.ErrFormat, err)
		}
	}
	return s, desc.Metadata, nil
}
