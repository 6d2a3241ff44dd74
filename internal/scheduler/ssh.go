package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/altiusproxy/slurmgate/internal/job"
	"github.com/altiusproxy/slurmgate/internal/sacct"
)

// SSHClient is the production Client: every logical operation opens its own
// ssh.Session over one lazily-dialed ssh.Client, serialized by runMu so two
// goroutines never interleave commands on the same transport. mu guards
// the cached client itself.
type SSHClient struct {
	hostname   string
	username   string
	signer     ssh.Signer
	testStatus *JobSnapshot // overridable in tests; nil uses the real TestJobID snapshot

	runMu  sync.Mutex
	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHClient builds an SSHClient. keyPath is a PEM-encoded private key
// readable at construction time; the TCP connection itself is deferred
// until the first command.
func NewSSHClient(hostname, username, keyPath string) (*SSHClient, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", keyPath, err)
	}
	return &SSHClient{hostname: hostname, username: username, signer: signer}, nil
}

// connect returns the cached ssh.Client, dialing it on first use. It does
// not check the cached client's health; run clears the cache and calls
// connect again when a command fails at the transport level.
func (c *SSHClient) connect() (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	client, err := c.dial()
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	c.client = client
	return client, nil
}

func (c *SSHClient) dial() (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User:            c.username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	return ssh.Dial("tcp", c.hostname+":22", config)
}

// run executes cmd on the scheduler host, redialing and retrying exactly
// once if the cached transport has gone stale.
func (c *SSHClient) run(ctx context.Context, cmd string) (stdout, stderr string, err error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	client, err := c.connect()
	if err != nil {
		return "", "", err
	}

	out, errOut, runErr := runOnce(client, cmd)
	if runErr == nil {
		return out, errOut, nil
	}
	if !isTransportFailure(runErr) {
		return out, errOut, runErr
	}

	c.mu.Lock()
	c.client = nil
	c.mu.Unlock()

	client, err = c.connect()
	if err != nil {
		return "", "", err
	}
	out, errOut, runErr = runOnce(client, cmd)
	if runErr != nil && isTransportFailure(runErr) {
		return out, errOut, &TransportError{Op: "exec", Err: runErr}
	}
	return out, errOut, runErr
}

func runOnce(client *ssh.Client, cmd string) (stdout, stderr string, err error) {
	session, err := client.NewSession()
	if err != nil {
		return "", "", err
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf
	err = session.Run(cmd)
	return outBuf.String(), errBuf.String(), err
}

func isTransportFailure(err error) bool {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return false
	}
	return err != nil
}

// Submit runs cmdScript — expected to end in a --parsable sbatch
// invocation — and parses its sole line of stdout as the assigned job id.
func (c *SSHClient) Submit(ctx context.Context, cmdScript string) (int64, error) {
	stdout, stderr, err := c.run(ctx, cmdScript)
	if err != nil {
		return BadJobID, err
	}
	if strings.TrimSpace(stderr) != "" {
		return BadJobID, fmt.Errorf("sbatch reported an error: %s", strings.TrimSpace(stderr))
	}
	jobID, err := strconv.ParseInt(strings.TrimSpace(stdout), 10, 64)
	if err != nil {
		return BadJobID, fmt.Errorf("parse sbatch job id from %q: %w", stdout, err)
	}
	return jobID, nil
}

// QueryJob reports the latest accounting snapshot for jobID.
func (c *SSHClient) QueryJob(ctx context.Context, jobID int64) (JobSnapshot, error) {
	if jobID == TestJobID {
		if c.testStatus != nil {
			return *c.testStatus, nil
		}
		return JobSnapshot{JobID: TestJobID, State: job.StatusCompleted}, nil
	}

	stdout, _, err := c.run(ctx, queryCommand(jobID))
	if err != nil {
		return JobSnapshot{}, err
	}
	rec, ok := sacct.ParseFirst(stdout)
	if !ok {
		return JobSnapshot{}, ErrJobNotFound
	}
	return JobSnapshot{JobID: rec.JobID, State: rec.State}, nil
}

// QueryByState reports a snapshot for every job sacct currently lists in
// state across the accounting database.
func (c *SSHClient) QueryByState(ctx context.Context, state job.Status) ([]JobSnapshot, error) {
	stdout, _, err := c.run(ctx, queryByStateCommand(state))
	if err != nil {
		return nil, err
	}
	recs := sacct.ParseAll(stdout)
	out := make([]JobSnapshot, 0, len(recs))
	for _, r := range recs {
		out = append(out, JobSnapshot{JobID: r.JobID, State: r.State})
	}
	return out, nil
}

// Cancel requests termination of jobID, succeeding iff scancel's remote
// exit code is zero.
func (c *SSHClient) Cancel(ctx context.Context, jobID int64) error {
	_, _, err := c.run(ctx, fmt.Sprintf("scancel %d", jobID))
	if err == nil {
		return nil
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return err
	}
	return fmt.Errorf("scancel job %d: %w", jobID, err)
}

func queryCommand(jobID int64) string {
	return fmt.Sprintf(
		"sacct -j %d --format=%s --noheader --parsable2",
		jobID, strings.Join(sacct.Fields, ","),
	)
}

func queryByStateCommand(state job.Status) string {
	return fmt.Sprintf(
		"sacct --state=%s --format=%s --noheader --parsable2 --allusers",
		string(state), strings.Join(sacct.Fields, ","),
	)
}

var _ Client = (*SSHClient)(nil)
