// Package protocol defines the wire shape of the child inference server's
// /inference JSON response, decoded defensively since optional fields may
// be missing or spelled more than one way.
package protocol

import "strings"

// InferenceResponse is the child's raw /inference JSON body. Every field is
// optional; absence is not an error.
type InferenceResponse struct {
	Text       string       `json:"text"`
	Transcript string       `json:"transcript"`
	Segments   []RawSegment `json:"segments"`
}

// RawSegment is one element of the child's segments array, as received.
type RawSegment struct {
	Text       string   `json:"text"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Confidence *float64 `json:"confidence"`
	Speaker    *string  `json:"speaker"`
}

// Segment is the canonical, normalized segment shape handed back to callers.
type Segment struct {
	Text       string   `json:"text"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Confidence *float64 `json:"confidence"`
	Speaker    *string  `json:"speaker"`
}

// ResolvedText picks text, falling back to transcript, else empty string.
func (r *InferenceResponse) ResolvedText() string {
	if r.Text != "" {
		return r.Text
	}
	if r.Transcript != "" {
		return r.Transcript
	}
	return ""
}

// NormalizedSegments applies spec.md §4.4 step 6's defensive field access
// to every raw segment: text is trimmed, end falls back to start, start/end
// default to zero.
func (r *InferenceResponse) NormalizedSegments() []Segment {
	segments := make([]Segment, 0, len(r.Segments))
	for _, raw := range r.Segments {
		end := raw.End
		if end == 0 {
			end = raw.Start
		}
		segments = append(segments, Segment{
			Text:       strings.TrimSpace(raw.Text),
			Start:      raw.Start,
			End:        end,
			Confidence: raw.Confidence,
			Speaker:    raw.Speaker,
		})
	}
	return segments
}
