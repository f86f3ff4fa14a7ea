// Package status collects a point-in-time view of one project's admission
// state: active markers, active traces and the proof-of-work state.
package status

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fyrsmithlabs/agentgate/internal/proof"
	"github.com/fyrsmithlabs/agentgate/internal/services"
	"github.com/fyrsmithlabs/agentgate/internal/trace"
)

// Report is the status of one project.
type Report struct {
	Project Project      `json:"project" yaml:"project"`
	Proof   Proof        `json:"proof" yaml:"proof"`
	Active  Active       `json:"active" yaml:"active"`
	Traces  []TraceEntry `json:"traces" yaml:"traces"`
}

// Project identifies the project a report covers.
type Project struct {
	ID    string `json:"id" yaml:"id"`
	Root  string `json:"root" yaml:"root"`
	InGit bool   `json:"in_git" yaml:"in_git"`
}

// Proof is the proof-of-work state. Error is set when the status file is
// unreadable.
type Proof struct {
	State         string     `json:"state" yaml:"state"`
	Since         *time.Time `json:"since,omitempty" yaml:"since,omitempty"`
	AllowsRelease bool       `json:"allows_release" yaml:"allows_release"`
	Error         string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Active counts the live markers against the concurrency limit.
type Active struct {
	Total  int            `json:"total" yaml:"total"`
	Limit  int            `json:"limit" yaml:"limit"`
	ByType map[string]int `json:"by_type" yaml:"by_type"`
}

// TraceEntry is one trace as listed by status and trace list.
type TraceEntry struct {
	ID         string `json:"id" yaml:"id"`
	WorkerType string `json:"worker_type" yaml:"worker_type"`
	Status     string `json:"status" yaml:"status"`
	Age        string `json:"age" yaml:"age"`
	Stale      bool   `json:"stale,omitempty" yaml:"stale,omitempty"`
	Summary    string `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// Collect builds the report for svc's project.
func Collect(ctx context.Context, svc services.Registry) (*Report, error) {
	var r Report
	proj := svc.Project()
	r.Project = Project{ID: proj.ID, Root: proj.Root, InGit: proj.InGit}

	st, err := svc.Proof().Read()
	r.Proof.State = string(st.State)
	r.Proof.AllowsRelease = st.AllowsRelease()
	if !st.Since.IsZero() {
		since := st.Since
		r.Proof.Since = &since
	}
	if err != nil {
		r.Proof.Error = err.Error()
	}

	byType, err := svc.Markers().CountByType()
	if err != nil {
		return nil, err
	}
	r.Active.ByType = byType
	for _, n := range byType {
		r.Active.Total += n
	}
	r.Active.Limit = svc.Config().Dispatch.MaxConcurrent

	active, err := svc.Traces().List(ctx, trace.Filter{Status: trace.StatusActive})
	if err != nil {
		return nil, err
	}
	now := svc.Clock().Now()
	stale := svc.Config().Trace.StaleAfter.Duration()
	for _, rec := range active {
		e := NewTraceEntry(rec, now)
		e.Stale = rec.Elapsed(now) > stale
		r.Traces = append(r.Traces, e)
	}
	return &r, nil
}

// NewTraceEntry summarizes rec as of now.
func NewTraceEntry(rec *trace.Record, now time.Time) TraceEntry {
	return TraceEntry{
		ID:         rec.ID,
		WorkerType: rec.WorkerType,
		Status:     string(rec.Status),
		Age:        FormatAge(rec.Elapsed(now)),
		Summary:    rec.Summary,
	}
}

// FormatAge renders d to whole seconds.
func FormatAge(d time.Duration) string {
	if d < time.Second {
		return "0s"
	}
	return d.Truncate(time.Second).String()
}

// WriteText renders r for a terminal.
func (r *Report) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Project:  %s (%s)\n", r.Project.Root, r.Project.ID)
	if !r.Project.InGit {
		fmt.Fprintln(w, "          not a git repository")
	}
	proofLine := r.Proof.State
	if r.Proof.State == string(proof.Corrupt) && r.Proof.Error != "" {
		proofLine += " (" + r.Proof.Error + ")"
	}
	fmt.Fprintf(w, "Proof:    %s\n", proofLine)
	fmt.Fprintf(w, "Active:   %d/%d\n", r.Active.Total, r.Active.Limit)

	types := make([]string, 0, len(r.Active.ByType))
	for t := range r.Active.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "  %-16s %d\n", t, r.Active.ByType[t])
	}

	if len(r.Traces) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACE\tTYPE\tAGE\tSTALE")
	for _, t := range r.Traces {
		stale := ""
		if t.Stale {
			stale = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.WorkerType, t.Age, stale)
	}
	return tw.Flush()
}
