// Package submit renders a task envelope and its registry descriptor into
// the shell script the scheduler client hands to sbatch.
package submit

import (
	"fmt"
	"path"
	"strings"

	"github.com/altiusproxy/slurmgate/internal/job"
	"github.com/altiusproxy/slurmgate/internal/registry"
)

// Render builds the full command script for task: directory creation
// followed by a single --parsable sbatch invocation wrapping the
// registered command and its parameters. The caller is expected to have
// already validated task and resolved desc from the registry.
func Render(task job.TaskEnvelope, desc registry.Descriptor) string {
	var parts []string
	parts = append(parts, mkdirCmd(task.Dirs))
	parts = append(parts, sbatchCmd(task, desc))
	return strings.Join(parts, " ; ")
}

func mkdirCmd(dirs job.Dirs) string {
	return strings.Join([]string{
		fmt.Sprintf("mkdir -p %s", dirs.Input),
		fmt.Sprintf("mkdir -p %s", dirs.Output),
		fmt.Sprintf("mkdir -p %s", dirs.Error),
	}, " ; ")
}

func sbatchCmd(task job.TaskEnvelope, desc registry.Descriptor) string {
	s := task.Slurm
	comps := []string{
		"sbatch",
		"--parsable",
		fmt.Sprintf("--job-name=%s", s.JobName),
		fmt.Sprintf("--output=%s", path.Join(task.Dirs.Output, s.Output)),
		fmt.Sprintf("--error=%s", path.Join(task.Dirs.Error, s.Error)),
		fmt.Sprintf("--nodes=%d", s.Nodes),
		fmt.Sprintf("--mem=%s", s.Mem),
		fmt.Sprintf("--cpus-per-task=%d", s.CPUsPerTask),
		fmt.Sprintf("--ntasks-per-node=%d", s.NTasksPerNode),
		fmt.Sprintf("--partition=%s", s.Partition),
	}
	if s.Time != "" {
		comps = append(comps, fmt.Sprintf("--time=%s", s.Time))
	}
	comps = append(comps, fmt.Sprintf("--wrap='%s'", taskCmd(task, desc)))
	return strings.Join(comps, " ")
}

func taskCmd(task job.TaskEnvelope, desc registry.Descriptor) string {
	parts := append([]string{desc.Cmd}, task.Params...)
	return strings.Join(parts, " ")
}
