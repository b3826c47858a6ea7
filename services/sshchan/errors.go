package sshchan

import (
	"errors"
	"fmt"
)

// ErrCredentialNotFound is returned when the vault holds no private key for
// the requesting user.
var ErrCredentialNotFound = errors.New("sshchan: credential not found")

// ConnectError indicates the transport could not reach the remote host.
type ConnectError struct {
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError indicates the remote host rejected the presented key.
type AuthError struct {
	Host string
	User string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authenticate %s@%s: %v", e.User, e.Host, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// CommandError indicates a remote command failed after the session was
// established. ExitStatus is -1 when the command never returned a status.
type CommandError struct {
	Host       string
	Cmd        string
	ExitStatus int
	Stderr     string
	Err        error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("run %q on %s: exit %d: %s", e.Cmd, e.Host, e.ExitStatus, e.Stderr)
	}
	return fmt.Sprintf("run %q on %s: %v", e.Cmd, e.Host, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
