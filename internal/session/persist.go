package session

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
	"gopkg.in/yaml.v3"
)

// File layout: magic | salt | nonce | secretbox(yaml(records)).
var fileMagic = []byte("SCHEDSESS1")

const (
	saltSize  = 16
	nonceSize = 24
)

// record is the persisted form of a session. Opened tables and flashes are
// view state and are not written.
type record struct {
	ID       string    `yaml:"id"`
	Token    string    `yaml:"token"`
	Created  time.Time `yaml:"created"`
	LastSeen time.Time `yaml:"last_seen"`
}

type fileStore struct {
	mu     sync.Mutex
	path   string
	secret []byte
	salt   []byte
	key    [32]byte
}

func openFileStore(path, secret string) (*fileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	fs := &fileStore{path: path, secret: []byte(secret)}

	// Reuse the salt of an existing file so its contents stay readable.
	salt, err := readSalt(path)
	if err != nil {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("generating salt: %w", err)
		}
	}
	fs.setSalt(salt)
	return fs, nil
}

func (fs *fileStore) setSalt(salt []byte) {
	fs.salt = salt
	copy(fs.key[:], argon2.IDKey(fs.secret, salt, 1, 64*1024, 4, 32))
}

func readSalt(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, len(fileMagic)+saltSize)
	if _, err := io.ReadFull(f, head); err != nil {
		return nil, err
	}
	if !bytes.Equal(head[:len(fileMagic)], fileMagic) {
		return nil, errors.New("not a session file")
	}
	return head[len(fileMagic):], nil
}

// load decrypts the session file. A missing file yields no records.
func (fs *fileStore) load() ([]record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	hdr := len(fileMagic) + saltSize + nonceSize
	if len(data) < hdr+secretbox.Overhead || !bytes.Equal(data[:len(fileMagic)], fileMagic) {
		return nil, errors.New("session file is truncated or malformed")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[len(fileMagic)+saltSize:hdr])

	plain, ok := secretbox.Open(nil, data[hdr:], &nonce, &fs.key)
	if !ok {
		return nil, errors.New("session file cannot be decrypted with the configured secret")
	}

	var records []record
	if err := yaml.Unmarshal(plain, &records); err != nil {
		return nil, fmt.Errorf("decoding session file: %w", err)
	}
	return records, nil
}

// save encrypts and atomically replaces the session file.
func (fs *fileStore) save(records []record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	plain, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("encoding sessions: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 0, len(fileMagic)+saltSize+nonceSize+len(plain)+secretbox.Overhead)
	out = append(out, fileMagic...)
	out = append(out, fs.salt...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plain, &nonce, &fs.key)

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}
