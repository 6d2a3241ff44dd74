package submit

import (
	"strings"
	"testing"

	"github.com/altiusproxy/slurmgate/internal/job"
	"github.com/altiusproxy/slurmgate/internal/registry"
)

func sampleTask() job.TaskEnvelope {
	return job.TaskEnvelope{
		Name:   "echo_hello_world",
		Params: []string{"hello!"},
		UUID:   "123e4567-e89b-12d3-a456-426614174000",
		Slurm: job.SlurmParams{
			JobName:       "job1",
			Output:        "out.log",
			Error:         "err.log",
			Nodes:         1,
			Mem:           "1G",
			CPUsPerTask:   1,
			NTasksPerNode: 1,
			Partition:     "queue0",
		},
		Dirs: job.Dirs{Input: "/data/in", Output: "/data/out", Error: "/data/err"},
	}
}

func sampleDescriptor() registry.Descriptor {
	return registry.Descriptor{Cmd: "echo", Description: "Prints a message"}
}

func TestRender_IncludesDirectoryCreation(t *testing.T) {
	t.Parallel()
	script := Render(sampleTask(), sampleDescriptor())
	for _, want := range []string{"mkdir -p /data/in", "mkdir -p /data/out", "mkdir -p /data/err"} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q: %s", want, script)
		}
	}
}

func TestRender_SbatchFlags(t *testing.T) {
	t.Parallel()
	script := Render(sampleTask(), sampleDescriptor())
	for _, want := range []string{
		"sbatch", "--parsable",
		"--job-name=job1",
		"--output=/data/out/out.log",
		"--error=/data/err/err.log",
		"--nodes=1",
		"--mem=1G",
		"--cpus-per-task=1",
		"--ntasks-per-node=1",
		"--partition=queue0",
		"--wrap='echo hello!'",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q: %s", want, script)
		}
	}
}

func TestRender_OmitsTimeWhenEmpty(t *testing.T) {
	t.Parallel()
	task := sampleTask()
	task.Slurm.Time = ""
	script := Render(task, sampleDescriptor())
	if strings.Contains(script, "--time=") {
		t.Errorf("script should omit --time when unset: %s", script)
	}
}

func TestRender_IncludesTimeWhenSet(t *testing.T) {
	t.Parallel()
	task := sampleTask()
	task.Slurm.Time = "01:00:00"
	script := Render(task, sampleDescriptor())
	if !strings.Contains(script, "--time=01:00:00") {
		t.Errorf("script missing --time=01:00:00: %s", script)
	}
}
