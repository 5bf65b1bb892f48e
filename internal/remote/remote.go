// Package remote opens key-authenticated SSH sessions to fleet nodes and
// exposes command execution and SFTP file access over them.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"argus/internal/models"
)

// FileChannel supports stat-by-path and reading remote files.
type FileChannel interface {
	Stat(path string) (os.FileInfo, error)
	Open(path string) (io.ReadCloser, error)
	Close() error
}

// Session is a live connection to a node. Callers must Close it.
type Session interface {
	Run(ctx context.Context, command string) ([]string, error)
	OpenFileChannel() (FileChannel, error)
	Close() error
}

type Connector interface {
	Connect(ctx context.Context, address string, port int, user string) (Session, error)
}

type Options struct {
	PrivateKeyPath string
	// TrustUnknownHosts disables host key verification entirely. When false,
	// KnownHostsFile is consulted.
	TrustUnknownHosts bool
	KnownHostsFile    string
	Timeout           time.Duration
	Retry             RetryPolicy
}

type dialFunc func(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error)

type SSHConnector struct {
	signer   ssh.Signer
	hostKeys ssh.HostKeyCallback
	timeout  time.Duration
	retry    RetryPolicy
	dial     dialFunc
}

func NewSSHConnector(opts Options) (*SSHConnector, error) {
	signer, err := LoadSigner(opts.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	hostKeys, err := hostKeyCallback(opts.TrustUnknownHosts, opts.KnownHostsFile)
	if err != nil {
		return nil, err
	}
	return &SSHConnector{
		signer:   signer,
		hostKeys: hostKeys,
		timeout:  opts.Timeout,
		retry:    opts.Retry,
		dial:     dialContext,
	}, nil
}

// LoadSigner reads an unencrypted private key in any format ssh supports.
func LoadSigner(path string) (ssh.Signer, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key %s: %w", path, err)
	}
	return signer, nil
}

func hostKeyCallback(trust bool, knownHostsFile string) (ssh.HostKeyCallback, error) {
	if trust {
		// Host identity is not verified; see trust_unknown_hosts.
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if knownHostsFile == "" {
		return nil, errors.New("known hosts file is required when host verification is enabled")
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("loading known hosts: %w", err)
	}
	return cb, nil
}

func (c *SSHConnector) Connect(ctx context.Context, address string, port int, user string) (Session, error) {
	addr := net.JoinHostPort(address, strconv.Itoa(port))
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: c.hostKeys,
		Timeout:         c.timeout,
	}

	var client *ssh.Client
	attempts, err := c.retry.Do(ctx, func(ctx context.Context) error {
		var dialErr error
		client, dialErr = c.dial(ctx, addr, cfg)
		if dialErr != nil {
			log.Printf("remote: connect %s@%s: %v", user, addr, dialErr)
		}
		return dialErr
	})
	if err != nil {
		return nil, &models.ConnectError{Address: addr, Attempts: attempts, Err: err}
	}
	return &sshSession{client: client}, nil
}

func dialContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	if cfg.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	interrupted := !stop()
	if err != nil || interrupted {
		conn.Close()
		if interrupted {
			return nil, ctx.Err()
		}
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

type sshSession struct {
	client *ssh.Client
}

// Run executes command and returns the non-empty lines of its stdout. A
// non-zero exit status is tolerated when the command still produced output,
// since find reports unreadable directories that way.
func (s *sshSession) Run(ctx context.Context, command string) ([]string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("opening ssh session: %w", err)
	}
	defer sess.Close()
	stop := context.AfterFunc(ctx, func() { sess.Close() })
	defer stop()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	err = sess.Run(command)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) || stdout.Len() == 0 {
			return nil, fmt.Errorf("running %q: %w (stderr: %s)", command, err, strings.TrimSpace(stderr.String()))
		}
		log.Printf("remote: %q exited %d: %s", command, exitErr.ExitStatus(), strings.TrimSpace(stderr.String()))
	}
	return splitLines(stdout.String()), nil
}

func (s *sshSession) OpenFileChannel() (FileChannel, error) {
	c, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, fmt.Errorf("opening sftp channel: %w", err)
	}
	return &sftpChannel{client: c}, nil
}

func (s *sshSession) Close() error {
	return s.client.Close()
}

type sftpChannel struct {
	client *sftp.Client
}

func (c *sftpChannel) Stat(path string) (os.FileInfo, error) {
	return c.client.Stat(path)
}

func (c *sftpChannel) Open(path string) (io.ReadCloser, error) {
	return c.client.Open(path)
}

func (c *sftpChannel) Close() error {
	return c.client.Close()
}

// FindCommand builds a bounded-depth search for files named name under path.
func FindCommand(path, name string, depth int) string {
	return fmt.Sprintf("find %s -maxdepth %d -type f -name %s", shellQuote(path), depth, shellQuote(name))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
