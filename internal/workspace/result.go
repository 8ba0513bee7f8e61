package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Verdict is the outcome of evaluating one case.
type Verdict struct {
	Passed bool
	Detail string
}

// Pass is the verdict of a case that passed.
func Pass() Verdict {
	return Verdict{Passed: true}
}

// Fail is the verdict of a failed case.
func Fail(detail string) Verdict {
	return Verdict{Detail: detail}
}

// MarshalJSON encodes a verdict as [passed, detail].
func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{v.Passed, v.Detail})
}

func (v *Verdict) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("verdict must be a [passed, detail] pair, got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &v.Passed); err != nil {
		return fmt.Errorf("invalid verdict flag: %w", err)
	}
	if err := json.Unmarshal(pair[1], &v.Detail); err != nil {
		return fmt.Errorf("invalid verdict detail: %w", err)
	}
	return nil
}

// Entry pairs a case identifier with its verdict.
type Entry struct {
	Case    string
	Verdict Verdict
}

// MarshalJSON encodes an entry as [case, [passed, detail]].
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Case, e.Verdict})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("result entry must be a [case, verdict] pair, got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.Case); err != nil {
		return fmt.Errorf("invalid case id: %w", err)
	}
	return json.Unmarshal(pair[1], &e.Verdict)
}

// Result is the ordered verdict list of one workspace.
type Result []Entry

// Add appends the verdict for a case.
func (r *Result) Add(caseID string, v Verdict) {
	*r = append(*r, Entry{Case: caseID, Verdict: v})
}

// Failed returns the entries that did not pass, in order.
func (r Result) Failed() []Entry {
	var failed []Entry
	for _, e := range r {
		if !e.Verdict.Passed {
			failed = append(failed, e)
		}
	}
	return failed
}

// WriteResult replaces the workspace's result record with r.
func (w Workspace) WriteResult(r Result) error {
	if r == nil {
		r = Result{}
	}
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := os.MkdirAll(w.ResultDir(), 0755); err != nil {
		return fmt.Errorf("failed to create result dir: %w", err)
	}
	tmp, err := os.CreateTemp(w.ResultDir(), ".result-*.json")
	if err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write result: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(w.ResultDir(), ResultJSON)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

// ReadResult loads the workspace's result record.
func (w Workspace) ReadResult() (Result, error) {
	data, err := os.ReadFile(w.ResultFile())
	if err != nil {
		return nil, fmt.Errorf("failed to read result: %w", err)
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}
	return r, nil
}
