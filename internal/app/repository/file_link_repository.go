package repository

import (
	"bufio"
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sifan077/TempLink/internal/app/model"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	routesDirName      = "routes"
	credentialsDirName = "htpasswd"
	recordSuffix       = ".toml"
	credentialSuffix   = "_htpasswd"
)

var identifierPattern = regexp.MustCompile(`^[a-z0-9]{1,32}$`)

// FileOption customises the file-backed repository.
type FileOption func(*fileLinkRepository)

// WithBcryptCost overrides the bcrypt cost used for credential artifacts.
func WithBcryptCost(cost int) FileOption {
	return func(r *fileLinkRepository) {
		r.bcryptCost = cost
	}
}

// WithLogger attaches a logger for records that cannot be decoded.
func WithLogger(logger *zap.Logger) FileOption {
	return func(r *fileLinkRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// fileLinkRepository keeps one TOML routing record per identifier under
// <dir>/routes and one htpasswd credential artifact under <dir>/htpasswd.
// A routing record exists if and only if the link is active.
type fileLinkRepository struct {
	routesDir      string
	credentialsDir string
	bcryptCost     int
	locks          *keyedMutex
	logger         *zap.Logger
}

// NewFileLinkRepository returns a LinkRepository rooted at dir, creating the layout when missing.
func NewFileLinkRepository(dir string, opts ...FileOption) (LinkRepository, error) {
	r := &fileLinkRepository{
		routesDir:      filepath.Join(dir, routesDirName),
		credentialsDir: filepath.Join(dir, credentialsDirName),
		bcryptCost:     bcrypt.DefaultCost,
		locks:          newKeyedMutex(),
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, d := range []string{r.routesDir, r.credentialsDir} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return nil, fmt.Errorf("create storage directory %s: %w", d, err)
		}
	}
	return r, nil
}

func (r *fileLinkRepository) Create(ctx context.Context, link *model.Link) error {
	id, err := normalizeIdentifier(link.Identifier)
	if err != nil {
		return err
	}
	link.Identifier = id
	link.Protected = link.Credentials != nil

	unlock := r.locks.lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	recordPath := r.recordPath(id)
	if _, err := os.Stat(recordPath); err == nil {
		return ErrIdentifierCollision
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat routing record %q: %w", id, err)
	}

	var credentialTmp string
	if link.Credentials != nil {
		credentialTmp, err = r.stageCredentials(id, *link.Credentials)
		if err != nil {
			return err
		}
		defer os.Remove(credentialTmp)
	}

	recordTmp, err := r.stageRecord(id, link)
	if err != nil {
		return err
	}
	defer os.Remove(recordTmp)

	// os.Link refuses to replace an existing record, so a racing writer
	// from another process loses here instead of overwriting.
	if err := os.Link(recordTmp, recordPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrIdentifierCollision
		}
		return fmt.Errorf("publish routing record %q: %w", id, err)
	}

	if credentialTmp != "" {
		if err := os.Rename(credentialTmp, r.credentialPath(id)); err != nil {
			_ = os.Remove(recordPath)
			return fmt.Errorf("publish credential artifact %q: %w", id, err)
		}
	}
	return nil
}

func (r *fileLinkRepository) Get(ctx context.Context, identifier string) (*model.Link, error) {
	id, err := normalizeIdentifier(identifier)
	if err != nil {
		return nil, ErrLinkNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	link, err := r.readRecord(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return link, nil
}

func (r *fileLinkRepository) Exists(ctx context.Context, identifier string) (bool, error) {
	id, err := normalizeIdentifier(identifier)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if _, err := os.Stat(r.recordPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat routing record %q: %w", id, err)
	}
	return true, nil
}

func (r *fileLinkRepository) ListActive(ctx context.Context) ([]model.Link, error) {
	entries, err := os.ReadDir(r.routesDir)
	if err != nil {
		return nil, fmt.Errorf("list routing records: %w", err)
	}

	links := make([]model.Link, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()
		// Staged writes are dot-prefixed and never part of the snapshot.
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, recordSuffix)
		if !identifierPattern.MatchString(id) {
			continue
		}

		link, err := r.readRecord(id)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Deleted between ReadDir and read.
				continue
			}
			r.logger.Warn("skipping unreadable routing record", zap.String("identifier", id), zap.Error(err))
			continue
		}
		links = append(links, *link)
	}

	sort.Slice(links, func(i, j int) bool {
		return links[i].CreatedAt.Before(links[j].CreatedAt)
	})
	return links, nil
}

func (r *fileLinkRepository) Delete(ctx context.Context, identifier string) error {
	id, err := normalizeIdentifier(identifier)
	if err != nil {
		return ErrLinkNotFound
	}

	unlock := r.locks.lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	// Credential first: a failure leaves the record in place for the next
	// sweep rather than an orphaned credential.
	if err := os.Remove(r.credentialPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove credential artifact %q: %w", id, err)
	}
	if err := os.Remove(r.recordPath(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrLinkNotFound
		}
		return fmt.Errorf("remove routing record %q: %w", id, err)
	}
	return nil
}

func (r *fileLinkRepository) Authenticate(ctx context.Context, identifier, username, password string) (bool, error) {
	id, err := normalizeIdentifier(identifier)
	if err != nil {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	data, err := os.ReadFile(r.credentialPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read credential artifact %q: %w", id, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		user, hash, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if !ok {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 {
			continue
		}
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
	}
	return false, scanner.Err()
}

func (r *fileLinkRepository) readRecord(id string) (*model.Link, error) {
	var link model.Link
	if _, err := toml.DecodeFile(r.recordPath(id), &link); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("decode routing record %q: %w", id, err)
	}
	link.Identifier = id
	return &link, nil
}

func (r *fileLinkRepository) stageRecord(id string, link *model.Link) (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(link); err != nil {
		return "", fmt.Errorf("encode routing record %q: %w", id, err)
	}
	return stageFile(r.routesDir, id, buf.Bytes())
}

func (r *fileLinkRepository) stageCredentials(id string, creds model.Credentials) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), r.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash credentials %q: %w", id, err)
	}
	line := fmt.Sprintf("%s:%s\n", creds.Username, hash)
	return stageFile(r.credentialsDir, id, []byte(line))
}

func (r *fileLinkRepository) recordPath(id string) string {
	return filepath.Join(r.routesDir, id+recordSuffix)
}

func (r *fileLinkRepository) credentialPath(id string) string {
	return filepath.Join(r.credentialsDir, id+credentialSuffix)
}

// stageFile writes data to a hidden temporary file next to its final location.
func stageFile(dir, id string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+id+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("stage %q: %w", id, err)
	}
	name := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write staged %q: %w", id, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("sync staged %q: %w", id, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close staged %q: %w", id, err)
	}
	return name, nil
}

func normalizeIdentifier(identifier string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(identifier))
	if !identifierPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, identifier)
	}
	return id, nil
}
