package sshchan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const defaultDialTimeout = 30 * time.Second

// Channel executes one-shot operations against remote LPARs over SSH.
// Every call opens a fresh session and tears it down before returning:
// the remote SSH daemons are a scarce resource and long-lived sessions
// against them are fragile, so nothing is pooled across calls.
type Channel struct {
	resolver    *KeyResolver
	dialTimeout time.Duration
}

// NewChannel creates a Channel resolving credentials through the given resolver.
func NewChannel(resolver *KeyResolver) (*Channel, error) {
	if resolver == nil {
		return nil, errors.New("key resolver is required")
	}
	return &Channel{resolver: resolver, dialTimeout: defaultDialTimeout}, nil
}

// RunCommand executes cmd on host as user and returns trimmed stdout.
func (c *Channel) RunCommand(ctx context.Context, host, user, cmd string) (string, error) {
	client, err := c.dial(ctx, host, user)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", &ConnectError{Host: host, Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Run(cmd); err != nil {
		status := -1
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			status = exitErr.ExitStatus()
		}
		return "", &CommandError{
			Host:       host,
			Cmd:        cmd,
			ExitStatus: status,
			Stderr:     strings.TrimSpace(stderr.String()),
			Err:        err,
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

// UploadFile copies a local file to the remote path.
func (c *Channel) UploadFile(ctx context.Context, host, user, localPath, remotePath string) error {
	client, err := c.dial(ctx, host, user)
	if err != nil {
		return err
	}
	defer client.Close()

	ftp, err := sftp.NewClient(client)
	if err != nil {
		return &ConnectError{Host: host, Err: err}
	}
	defer ftp.Close()

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()

	// Uploading into a directory keeps the local basename.
	if info, statErr := ftp.Stat(remotePath); statErr == nil && info.IsDir() {
		remotePath = path.Join(remotePath, filepath.Base(localPath))
	}

	dst, err := ftp.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s on %s: %w", remotePath, host, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("upload %s to %s: %w", localPath, host, err)
	}
	return nil
}

// DownloadFile copies remote files to the local side. The remote path may be
// a glob pattern, in which case every match is written into localPath, which
// must be a directory.
func (c *Channel) DownloadFile(ctx context.Context, host, user, remotePath, localPath string) error {
	client, err := c.dial(ctx, host, user)
	if err != nil {
		return err
	}
	defer client.Close()

	ftp, err := sftp.NewClient(client)
	if err != nil {
		return &ConnectError{Host: host, Err: err}
	}
	defer ftp.Close()

	matches, err := ftp.Glob(remotePath)
	if err != nil {
		return fmt.Errorf("glob %s on %s: %w", remotePath, host, err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("no files matching %s on %s", remotePath, host)
	}

	if len(matches) == 1 && matches[0] == remotePath {
		return c.fetch(ftp, remotePath, localPath)
	}

	for _, match := range matches {
		dest := filepath.Join(localPath, filepath.Base(match))
		if err := c.fetch(ftp, match, dest); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) fetch(ftp *sftp.Client, remotePath, localPath string) error {
	src, err := ftp.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote %s: %w", remotePath, err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("download %s: %w", remotePath, err)
	}
	return nil
}

func (c *Channel) dial(ctx context.Context, host, user string) (*ssh.Client, error) {
	keyPath, err := c.resolver.Resolve(ctx, user)
	if err != nil {
		return nil, err
	}

	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, &AuthError{Host: host, User: user, Err: err}
	}

	cfg := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Host keys are not pinned: LPARs are re-imaged between runs and the
		// fleet registry is the trust anchor.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.dialTimeout,
	}

	addr := host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		addr = net.JoinHostPort(host, "22")
	}

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Host: host, Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &AuthError{Host: host, User: user, Err: err}
		}
		return nil, &ConnectError{Host: host, Err: err}
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}
