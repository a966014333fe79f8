package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileTokenStore keeps one JSON file per token under <dir>/<stack>/<request>.json
type FileTokenStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileTokenStore creates a store rooted at dir
func NewFileTokenStore(dir string) (*FileTokenStore, error) {
	if dir == "" {
		return nil, errors.New("token directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create token directory: %w", err)
	}
	return &FileTokenStore{dir: dir}, nil
}

func (f *FileTokenStore) stackDir(stack string) string {
	return filepath.Join(f.dir, url.PathEscape(stack))
}

func (f *FileTokenStore) path(stack, requestID string) string {
	return filepath.Join(f.stackDir(stack), url.PathEscape(requestID)+".json")
}

// Create stores a new token. The file is hard-linked into place, which fails if
// the path exists, so the claim holds across processes sharing the directory.
func (f *FileTokenStore) Create(_ context.Context, token Token) error {
	if err := token.ValidateKey(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.path(token.Stack, token.RequestID)
	tmpFile, err := f.writeTemp(path, token)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmpFile) }()

	if err := os.Link(tmpFile, path); err != nil {
		if os.IsExist(err) {
			return ErrTokenExists
		}
		return fmt.Errorf("failed to create token file: %w", err)
	}
	return nil
}

// Get loads a token
func (f *FileTokenStore) Get(_ context.Context, stack, requestID string) (Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(f.path(stack, requestID))
}

// Update overwrites an existing token
func (f *FileTokenStore) Update(_ context.Context, token Token) error {
	if err := token.ValidateKey(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.path(token.Stack, token.RequestID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return ErrTokenNotFound
		}
		return fmt.Errorf("failed to stat token file: %w", err)
	}
	return f.write(path, token)
}

// List returns every token of a stack
func (f *FileTokenStore) List(_ context.Context, stack string) ([]Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.stackDir(stack))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}

	var tokens []Token
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		token, err := f.read(filepath.Join(f.stackDir(stack), entry.Name()))
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	sortByCreation(tokens)
	return tokens, nil
}

// Close is a no-op
func (f *FileTokenStore) Close() error {
	return nil
}

func (f *FileTokenStore) read(path string) (Token, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is built from escaped key components
	if err != nil {
		if os.IsNotExist(err) {
			return Token{}, ErrTokenNotFound
		}
		return Token{}, fmt.Errorf("failed to read token file: %w", err)
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return Token{}, fmt.Errorf("failed to decode token file %s: %w", path, err)
	}
	return token, nil
}

// writeTemp writes token to a uniquely named file next to path
func (f *FileTokenStore) writeTemp(path string, token Token) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("failed to create token directory: %w", err)
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal token: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return tmp.Name(), nil
}

func (f *FileTokenStore) write(path string, token Token) error {
	// Write atomically using temp file
	tmpFile, err := f.writeTemp(path, token)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpFile, path); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to atomic rename: %w", err)
	}
	return nil
}
