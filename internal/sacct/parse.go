// Package sacct parses the scheduler's accounting-query output: pipe-
// delimited fields, one line per job, no header, in the field order the
// query requested.
package sacct

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/altiusproxy/slurmgate/internal/job"
)

// Fields is the declared field order the accounting query is always run
// with: JobID, JobName, State, User, Partition, TimeLimit, Start, End,
// Elapsed.
var Fields = []string{"JobID", "JobName", "State", "User", "Partition", "TimeLimit", "Start", "End", "Elapsed"}

// Record is one parsed accounting-query row, with State already folded to
// a canonical job.Status.
type Record struct {
	JobID     int64
	JobName   string
	State     job.Status
	User      string
	Partition string
	TimeLimit string
	Start     string
	End       string
	Elapsed   string
}

// ParseFirst parses the first newline-delimited record of raw output. It
// returns (nil, false) when raw is empty after trimming — the scheduler
// returning an empty body.
func ParseFirst(raw string) (*Record, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	line := strings.SplitN(raw, "\n", 2)[0]
	rec, err := parseLine(line)
	if err != nil {
		return nil, false
	}
	return rec, true
}

// ParseAll parses every newline-delimited record of raw output, skipping
// any line that fails to parse (malformed accounting rows should not
// abort the whole query).
func ParseAll(raw string) []Record {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []Record
	for _, line := range strings.Split(raw, "\n") {
		if line == "" {
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

func parseLine(line string) (*Record, error) {
	fields := strings.Split(line, "|")
	if len(fields) < len(Fields) {
		return nil, fmt.Errorf("accounting line has %d fields, want %d", len(fields), len(Fields))
	}
	jobID, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return nil, err
	}
	return &Record{
		JobID:     jobID,
		JobName:   fields[1],
		State:     job.Classify(strings.TrimSpace(fields[2])),
		User:      fields[3],
		Partition: fields[4],
		TimeLimit: fields[5],
		Start:     fields[6],
		End:       fields[7],
		Elapsed:   fields[8],
	}, nil
}
