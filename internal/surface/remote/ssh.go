package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/xkilldash9x/deskpilot/internal/config"
)

// SSHTransport connects to the remote desktop over SSH and uses SFTP on the
// same connection for file transfers.
type SSHTransport struct {
	cfg    config.RemoteConfig
	logger *zap.Logger
}

var _ Transport = (*SSHTransport)(nil)

// NewSSHTransport creates a transport for the configured host.
func NewSSHTransport(cfg config.RemoteConfig, logger *zap.Logger) *SSHTransport {
	return &SSHTransport{cfg: cfg, logger: logger.Named("ssh")}
}

// Address returns host:port.
func (t *SSHTransport) Address() string {
	port := t.cfg.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.cfg.Host, strconv.Itoa(port))
}

// clientConfig assembles authentication and host key verification.
func (t *SSHTransport) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if t.cfg.KeyFile != "" {
		path, err := homedir.Expand(t.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("expanding key path: %w", err)
		}
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parsing private key %s: %w", path, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	if t.cfg.Password != "" {
		password := t.cfg.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(auth) == 0 {
		return nil, errors.New("no ssh credentials configured")
	}

	hostKeyCallback, err := t.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            t.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         t.cfg.ConnectTimeout,
	}, nil
}

func (t *SSHTransport) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if t.cfg.InsecureIgnoreHostKey {
		t.logger.Warn("Host key verification disabled", zap.String("host", t.cfg.Host))
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path, err := homedir.Expand(t.cfg.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("expanding known_hosts path: %w", err)
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts %s: %w", path, err)
	}
	return cb, nil
}

// Connect dials, authenticates and opens the SFTP subsystem.
func (t *SSHTransport) Connect(ctx context.Context) (Session, error) {
	cc, err := t.clientConfig()
	if err != nil {
		return nil, err
	}

	addr := t.Address()
	dialer := net.Dialer{Timeout: t.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	// Bound the handshake by the context deadline or the connect timeout.
	deadline, ok := ctx.Deadline()
	if !ok && t.cfg.ConnectTimeout > 0 {
		deadline, ok = time.Now().Add(t.cfg.ConnectTimeout), true
	}
	if ok {
		_ = conn.SetDeadline(deadline)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cc)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(c, chans, reqs)

	files, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("opening sftp subsystem: %w", err)
	}

	t.logger.Info("Connected to remote desktop", zap.String("address", addr), zap.String("user", t.cfg.User))
	return &sshSession{client: client, files: files}, nil
}

type sshSession struct {
	client *ssh.Client
	files  *sftp.Client
}

func (s *sshSession) Execute(ctx context.Context, command string) ([]byte, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("opening ssh session: %w", err)
	}
	defer sess.Close()

	var out bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &out

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		<-done
		return out.Bytes(), ctx.Err()
	case err := <-done:
		if err == nil {
			return out.Bytes(), nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return out.Bytes(), &ExitError{Status: exitErr.ExitStatus(), Err: err}
		}
		return out.Bytes(), err
	}
}

func (s *sshSession) FetchFile(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := runWithContext(ctx, func() error {
		f, err := s.files.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		data, err = io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *sshSession) RemoveFile(ctx context.Context, path string) error {
	return runWithContext(ctx, func() error {
		if err := s.files.Remove(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
		return nil
	})
}

func (s *sshSession) Close() error {
	sftpErr := s.files.Close()
	sshErr := s.client.Close()
	return errors.Join(sftpErr, sshErr)
}

// runWithContext runs fn on its own goroutine so a blocking SFTP call cannot
// hold the caller past its context. fn may finish later; its result is dropped.
func runWithContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
