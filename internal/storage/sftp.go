package storage

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/botgrid/hosting/pkg/config"
	"github.com/botgrid/hosting/pkg/logger"
)

// SFTPStore is an ObjectStore backed by a storage box over SFTP. The
// connection is lazy and reconnects after sitting idle.
type SFTPStore struct {
	cfg *config.Config

	mu          sync.Mutex
	sshClient   *ssh.Client
	sftpClient  *sftp.Client
	connected   bool
	lastUsed    time.Time
	idleTimeout time.Duration
}

// NewSFTPStore creates an SFTP-backed object store
func NewSFTPStore(cfg *config.Config) (*SFTPStore, error) {
	if !cfg.StorageBoxEnabled {
		return nil, fmt.Errorf("storage box not enabled in configuration")
	}
	if cfg.StorageBoxHost == "" || cfg.StorageBoxUser == "" || cfg.StorageBoxPassword == "" {
		return nil, fmt.Errorf("storage box credentials missing in configuration")
	}
	return &SFTPStore{
		cfg:         cfg,
		idleTimeout: 5 * time.Minute,
	}, nil
}

func (s *SFTPStore) ensureConnected() error {
	if s.connected && time.Since(s.lastUsed) > s.idleTimeout {
		logger.Info("sftp connection idle, reconnecting", map[string]interface{}{
			"idle": time.Since(s.lastUsed).Round(time.Second).String(),
		})
		s.closeLocked()
	}
	if !s.connected {
		return s.connect()
	}
	s.lastUsed = time.Now()
	return nil
}

func (s *SFTPStore) connect() error {
	sshConfig := &ssh.ClientConfig{
		User: s.cfg.StorageBoxUser,
		Auth: []ssh.AuthMethod{
			ssh.Password(s.cfg.StorageBoxPassword),
		},
		// Storage boxes present self-signed host keys.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	address := fmt.Sprintf("%s:%d", s.cfg.StorageBoxHost, s.cfg.StorageBoxPort)
	sshClient, err := ssh.Dial("tcp", address, sshConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to storage box: %w", err)
	}
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return fmt.Errorf("failed to open sftp session: %w", err)
	}

	s.sshClient = sshClient
	s.sftpClient = sftpClient
	s.connected = true
	s.lastUsed = time.Now()

	if err := s.sftpClient.MkdirAll(s.cfg.StorageBoxBasePath); err != nil {
		logger.Warn("failed to create base path, may already exist", map[string]interface{}{
			"path": s.cfg.StorageBoxBasePath,
		})
	}
	logger.Info("connected to storage box", map[string]interface{}{
		"host": s.cfg.StorageBoxHost,
	})
	return nil
}

// Close tears the connection down; the next call reconnects
func (s *SFTPStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *SFTPStore) closeLocked() {
	if !s.connected {
		return
	}
	if s.sftpClient != nil {
		s.sftpClient.Close()
	}
	if s.sshClient != nil {
		s.sshClient.Close()
	}
	s.connected = false
}

func (s *SFTPStore) remotePath(remoteKey string) string {
	return path.Join(s.cfg.StorageBoxBasePath, remoteKey)
}

// Upload copies a local file to the store under remoteKey
func (s *SFTPStore) Upload(localPath, remoteKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureConnected(); err != nil {
		return err
	}

	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	remotePath := s.remotePath(remoteKey)
	if err := s.sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}
	remoteFile, err := s.sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer remoteFile.Close()

	start := time.Now()
	written, err := io.Copy(remoteFile, localFile)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", remoteKey, err)
	}
	logger.Info("upload complete", map[string]interface{}{
		"key":      remoteKey,
		"size_mb":  written / 1024 / 1024,
		"duration": time.Since(start).Round(time.Second).String(),
	})
	return nil
}

// Download copies the object at remoteKey to localPath
func (s *SFTPStore) Download(remoteKey, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureConnected(); err != nil {
		return err
	}

	remoteFile, err := s.sftpClient.Open(s.remotePath(remoteKey))
	if err != nil {
		return fmt.Errorf("failed to open remote file %s: %w", remoteKey, err)
	}
	defer remoteFile.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}
	localFile, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer localFile.Close()

	start := time.Now()
	written, err := io.Copy(localFile, remoteFile)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", remoteKey, err)
	}
	logger.Info("download complete", map[string]interface{}{
		"key":      remoteKey,
		"size_mb":  written / 1024 / 1024,
		"duration": time.Since(start).Round(time.Second).String(),
	})
	return nil
}

// Remove deletes the object at remoteKey; a missing object is not an error
func (s *SFTPStore) Remove(remoteKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureConnected(); err != nil {
		return err
	}
	err := s.sftpClient.Remove(s.remotePath(remoteKey))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
