package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bnema/gemini-pool/internal/domain"
	"github.com/bnema/gemini-pool/internal/ports"
	log "github.com/sirupsen/logrus"
)

const (
	storeDirMode   = 0o700
	recordFileMode = 0o600
	recordExt      = ".json"

	tempFilePattern = ".credential-*.json.tmp"
)

// Store keeps one credential record per JSON file in a directory. The
// record id is the file name.
type Store struct {
	root string
	mu   sync.RWMutex
}

var _ ports.CredentialStore = (*Store)(nil)

func NewStore(root string) *Store {
	return &Store{root: filepath.Clean(root)}
}

func (s *Store) Root() string {
	return s.root
}

// List reads every record in the directory. Unreadable or malformed files
// are logged and skipped; a missing directory holds no records.
func (s *Store) List(ctx context.Context) ([]domain.CredentialRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credential directory: %w", err)
	}

	records := make([]domain.CredentialRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), recordExt) {
			continue
		}

		record, err := s.read(entry.Name())
		if err != nil {
			log.WithError(err).WithField("file", entry.Name()).Warn("skipping credential record")
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// Get reads a single record by id.
func (s *Store) Get(ctx context.Context, id domain.AccountID) (domain.CredentialRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.CredentialRecord{}, err
	}
	if _, err := s.pathForID(id); err != nil {
		return domain.CredentialRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, err := s.read(string(id))
	if errors.Is(err, os.ErrNotExist) {
		return domain.CredentialRecord{}, fmt.Errorf("credential record %q: %w", id, domain.ErrAccountNotFound)
	}
	return record, err
}

// Save atomically replaces the record's file.
func (s *Store) Save(ctx context.Context, record domain.CredentialRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.pathForID(record.ID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(toSchema(record), "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential record %q: %w", record.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.root, storeDirMode); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}

	return writeAtomic(path, data)
}

func (s *Store) read(name string) (domain.CredentialRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.root, name))
	if err != nil {
		return domain.CredentialRecord{}, err
	}

	var schema recordSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("decode credential record: %w", err)
	}
	if schema.Credentials == nil {
		return domain.CredentialRecord{}, errors.New("credential record has no credentials")
	}
	if schema.Credentials.AccessToken == "" && schema.Credentials.RefreshToken == "" {
		return domain.CredentialRecord{}, errors.New("credential record has no tokens")
	}

	return fromSchema(domain.AccountID(name), schema), nil
}

func (s *Store) pathForID(id domain.AccountID) (string, error) {
	name := strings.TrimSpace(string(id))
	if name == "" {
		return "", errors.New("credential id is empty")
	}

	if name != filepath.Base(name) || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid credential id %q", id)
	}
	if !strings.EqualFold(filepath.Ext(name), recordExt) {
		return "", fmt.Errorf("invalid credential id %q: want a %s file name", id, recordExt)
	}

	return filepath.Join(s.root, name), nil
}

func writeAtomic(path string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp credential file: %w", err)
	}

	if err := tempFile.Chmod(recordFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp credential file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp credential file: %w", err)
	}

	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}

	cleanup = false
	return nil
}

// FileName returns the record id to use for a new account identified by
// name, such as a project id or an email address.
func FileName(name string) domain.AccountID {
	name = strings.TrimSpace(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '@', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
	name = strings.TrimLeft(name, ".")
	if name == "" {
		name = "account"
	}
	return domain.AccountID(name + recordExt)
}
