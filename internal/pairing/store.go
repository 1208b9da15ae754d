// Package pairing implements the authorization gate: a YAML-backed
// trust store of authorized users and pending pairing requests, plus
// the hook plugin that enforces it.
package pairing

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// CodeLength is the number of characters in a pairing code.
const CodeLength = 8

// ErrCodeNotFound is returned when no pending request matches a code.
var ErrCodeNotFound = errors.New("pairing code not found")

// AuthorizedUser is a (channel, user) pair allowed through the gate.
type AuthorizedUser struct {
	Channel    string `yaml:"channel"`
	UserID     string `yaml:"user_id"`
	Name       string `yaml:"name"`
	ApprovedAt string `yaml:"approved_at"`
}

// PendingRequest is an unapproved pairing request. At most one exists
// per (channel, user).
type PendingRequest struct {
	Channel     string `yaml:"channel"`
	UserID      string `yaml:"user_id"`
	Name        string `yaml:"name"`
	Code        string `yaml:"code"`
	RequestedAt string `yaml:"requested_at"`
}

type storeFile struct {
	Authorized []AuthorizedUser `yaml:"authorized"`
	Pending    []PendingRequest `yaml:"pending"`
}

// Store is the single source of truth for pairing state. Reads check
// the file's modification timestamp first so approvals written by the
// CLI take effect in a running agent without restart. Writes rewrite
// the file atomically.
type Store struct {
	path string
	now  func() time.Time
	rand io.Reader

	mu         sync.Mutex
	authorized []AuthorizedUser
	pending    []PendingRequest
	lastMtime  time.Time
}

func NewStore(path string) *Store {
	s := &Store{
		path: path,
		now:  time.Now,
		rand: rand.Reader,
	}
	s.mu.Lock()
	s.loadLocked()
	s.mu.Unlock()
	return s
}

// IsAuthorized reports whether the (channel, user) pair is trusted,
// picking up external store mutations first.
func (s *Store) IsAuthorized(channel, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChangedLocked()
	return s.findAuthorizedLocked(channel, userID) >= 0
}

// Authorized returns a snapshot of all authorized users.
func (s *Store) Authorized() []AuthorizedUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChangedLocked()
	return append([]AuthorizedUser(nil), s.authorized...)
}

// Pending returns a snapshot of all pending requests.
func (s *Store) Pending() []PendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChangedLocked()
	return append([]PendingRequest(nil), s.pending...)
}

// AddPending returns the existing request for the user or creates one
// with a fresh code.
func (s *Store) AddPending(channel, userID, name string) (PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChangedLocked()

	for _, req := range s.pending {
		if req.Channel == channel && req.UserID == userID {
			return req, nil
		}
	}

	code, err := s.generateCodeLocked()
	if err != nil {
		return PendingRequest{}, err
	}
	req := PendingRequest{
		Channel:     channel,
		UserID:      userID,
		Name:        name,
		Code:        code,
		RequestedAt: s.now().UTC().Format(time.RFC3339),
	}
	s.pending = append(s.pending, req)
	if err := s.saveLocked(); err != nil {
		return PendingRequest{}, err
	}
	return req, nil
}

// Approve moves the pending request matching the code into the
// authorized list. Lookup is case-insensitive.
func (s *Store) Approve(code string) (AuthorizedUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChangedLocked()

	index := s.findPendingLocked(code)
	if index < 0 {
		return AuthorizedUser{}, ErrCodeNotFound
	}
	req := s.pending[index]
	s.pending = append(s.pending[:index], s.pending[index+1:]...)

	user := AuthorizedUser{
		Channel:    req.Channel,
		UserID:     req.UserID,
		Name:       req.Name,
		ApprovedAt: s.now().UTC().Format(time.RFC3339),
	}
	if s.findAuthorizedLocked(user.Channel, user.UserID) < 0 {
		s.authorized = append(s.authorized, user)
	}
	if err := s.saveLocked(); err != nil {
		return AuthorizedUser{}, err
	}
	return user, nil
}

// Reject drops the pending request matching the code.
func (s *Store) Reject(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChangedLocked()

	index := s.findPendingLocked(code)
	if index < 0 {
		return ErrCodeNotFound
	}
	s.pending = append(s.pending[:index], s.pending[index+1:]...)
	return s.saveLocked()
}

// Revoke removes an authorized user. Returns false when the pair was
// not authorized.
func (s *Store) Revoke(channel, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChangedLocked()

	index := s.findAuthorizedLocked(channel, userID)
	if index < 0 {
		return false, nil
	}
	s.authorized = append(s.authorized[:index], s.authorized[index+1:]...)
	return true, s.saveLocked()
}

// AddAuthorized inserts a user directly, used for owner bootstrap.
// Idempotent on the (channel, user) key.
func (s *Store) AddAuthorized(channel, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloadIfChangedLocked()

	if s.findAuthorizedLocked(channel, userID) >= 0 {
		return nil
	}
	if name == "" {
		name = "owner:" + userID
	}
	s.authorized = append(s.authorized, AuthorizedUser{
		Channel:    channel,
		UserID:     userID,
		Name:       name,
		ApprovedAt: s.now().UTC().Format(time.RFC3339),
	})
	return s.saveLocked()
}

func (s *Store) findAuthorizedLocked(channel, userID string) int {
	for i, u := range s.authorized {
		if u.Channel == channel && u.UserID == userID {
			return i
		}
	}
	return -1
}

func (s *Store) findPendingLocked(code string) int {
	code = normalizeCode(code)
	if code == "" {
		return -1
	}
	for i, req := range s.pending {
		if normalizeCode(req.Code) == code {
			return i
		}
	}
	return -1
}

func (s *Store) loadLocked() {
	s.authorized = nil
	s.pending = nil

	info, err := os.Stat(s.path)
	if err != nil {
		return
	}
	s.lastMtime = info.ModTime()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var file storeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		// Corrupt store starts fresh rather than blocking the gate.
		return
	}
	s.authorized = file.Authorized
	s.pending = file.Pending
}

func (s *Store) reloadIfChangedLocked() {
	info, err := os.Stat(s.path)
	if err != nil {
		return
	}
	if info.ModTime().After(s.lastMtime) {
		s.loadLocked()
	}
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(storeFile{
		Authorized: s.authorized,
		Pending:    s.pending,
	})
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data, 0600); err != nil {
		return err
	}
	if info, err := os.Stat(s.path); err == nil {
		s.lastMtime = info.ModTime()
	}
	return nil
}

func (s *Store) generateCodeLocked() (string, error) {
	existing := map[string]struct{}{}
	for _, req := range s.pending {
		existing[req.Code] = struct{}{}
	}
	for i := 0; i < 20; i++ {
		code, err := randomCode(s.rand, CodeLength)
		if err != nil {
			return "", err
		}
		if _, taken := existing[code]; taken {
			continue
		}
		return code, nil
	}
	return "", errors.New("failed to generate unique pairing code")
}

// randomCode draws length characters uniformly from the 32-character
// alphabet that excludes the visually ambiguous O, 0, I, and 1.
func randomCode(r io.Reader, length int) (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	if length <= 0 {
		return "", errors.New("invalid code length")
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i := range buf {
		out[i] = alphabet[int(buf[i])%len(alphabet)]
	}
	return string(out), nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
