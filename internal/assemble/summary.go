package assemble

import "path/filepath"

// Outcome is the result of processing one document.
type Outcome struct {
	Source   string
	Artifact string
	// Kind is empty on success, otherwise the error kind (extraction,
	// normalization, recognition, assembly, canceled, internal).
	Kind string
	Err  error
}

// Failure describes one failed document in a Summary.
type Failure struct {
	Document string `json:"document"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// Summary is the batch result: how many documents succeeded and failed, and
// which artifacts were produced.
type Summary struct {
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
	Artifacts []string  `json:"artifacts,omitempty"`
}

// Record adds one document outcome.
func (s *Summary) Record(o Outcome) {
	if o.Err == nil {
		s.Succeeded++
		if o.Artifact != "" {
			s.Artifacts = append(s.Artifacts, o.Artifact)
		}
		return
	}
	s.Failed++
	s.Failures = append(s.Failures, Failure{
		Document: filepath.Base(o.Source),
		Kind:     o.Kind,
		Message:  o.Err.Error(),
	})
}

// Total is the number of documents recorded.
func (s *Summary) Total() int { return s.Succeeded + s.Failed }
