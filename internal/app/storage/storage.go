// Package storage provides the filesystem persistence layer for the
// verification pipeline: per-repo JSONL logs and the certificates
// directory, with the atomicity guarantees the pipeline's durability
// contract requires. Grounded on the teacher's pkg/storage pagination
// conventions for naming, adapted here to a file-backed rather than
// SQL-backed store since the pipeline has no database dependency.
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/echelon-labs/verify/internal/app/apperr"
	"github.com/echelon-labs/verify/internal/app/domain"
)

const (
	certificatesDir = "certificates"
	indexFile       = "index.jsonl"
)

// Store is a filesystem abstraction over JSONL and JSON artifacts
// rooted at a configurable base directory.
type Store struct {
	base string
}

// New creates a Store rooted at baseDir, creating it if necessary.
func New(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		baseDir = "data"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, apperr.Storage("create base directory", err)
	}
	return &Store{base: baseDir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string { return s.base }

// RepoDir returns (creating if necessary) the per-repo directory for a
// repository given in "owner/name" form. Path traversal and absolute
// repo names are rejected as configuration errors.
func (s *Store) RepoDir(repo string) (string, error) {
	if repo == "" || strings.HasPrefix(repo, "/") || strings.Contains(repo, "..") {
		return "", apperr.Configuration("invalid repo name: %q", repo)
	}
	safe := strings.ReplaceAll(repo, "/", "_")
	dir := filepath.Join(s.base, safe)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.Storage("create repo directory", err)
	}
	return dir, nil
}

// AppendJSONL serializes record and appends it as a single line,
// terminated by exactly one '\n', in one write call — the smallest
// unit of atomicity the OS gives us for an append-mode file descriptor.
// Either the whole line lands, or (on abrupt termination) none of it
// does; a reader never observes a half-written line.
func AppendJSONL[T any](path string, record T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.Storage("create parent directory", err)
	}
	line, err := json.Marshal(record)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorage, "marshal record", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return apperr.Storage("open jsonl file", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return apperr.Storage("append jsonl line", err)
	}
	return nil
}

// ReadJSONL reads every non-blank line of path into a slice of T. A
// missing file yields an empty (nil) slice, not an error. Any non-blank
// line that fails to parse is a hard error identifying the file and
// line number.
func ReadJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Storage("open jsonl file", err)
	}
	defer f.Close()

	var records []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec T
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, apperr.Wrap(apperr.CodeStorage,
				fmt.Sprintf("failed to parse line %d in %s", lineNum, path), err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.Storage("scan jsonl file", err)
	}
	return records, nil
}

// WriteCertificate writes cert to certificates/{certificate_id}.json
// using a temp-file-then-rename sequence so readers concurrent with the
// write see either the old or new content, never a partial file. It
// then appends a summary line to certificates/index.jsonl; a failure at
// that stage does not un-write the certificate — it remains
// discoverable by direct ID lookup.
func (s *Store) WriteCertificate(cert domain.CalibrationCertificate) (string, error) {
	certsDir := filepath.Join(s.base, certificatesDir)
	if err := os.MkdirAll(certsDir, 0o755); err != nil {
		return "", apperr.Storage("create certificates directory", err)
	}

	target := filepath.Join(certsDir, cert.CertificateID+".json")
	data, err := json.MarshalIndent(cert, "", "  ")
	if err != nil {
		return "", apperr.Wrap(apperr.CodeStorage, "marshal certificate", err)
	}

	tmp, err := os.CreateTemp(certsDir, ".tmp-*.json")
	if err != nil {
		return "", apperr.Storage("create temp certificate file", err)
	}
	tmpPath := tmp.Name()
	removeTemp := true
	defer func() {
		if removeTemp {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", apperr.Storage("write temp certificate file", err)
	}
	if err := tmp.Close(); err != nil {
		return "", apperr.Storage("close temp certificate file", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return "", apperr.Storage("rename certificate into place", err)
	}
	removeTemp = false

	entry := domain.CertificateIndexEntry{
		CertificateID:  cert.CertificateID,
		ConstructID:    cert.ConstructID,
		CompositeScore: cert.CompositeScore,
		ReplayCount:    cert.ReplayCount,
		Timestamp:      cert.Timestamp,
	}
	// Index append failure is non-fatal per the storage contract: the
	// certificate is already durable and discoverable by ID.
	_ = AppendJSONL(filepath.Join(certsDir, indexFile), entry)

	return target, nil
}

// ReadCertificate loads a certificate by ID.
func (s *Store) ReadCertificate(certificateID string) (domain.CalibrationCertificate, error) {
	path := filepath.Join(s.base, certificatesDir, certificateID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.CalibrationCertificate{}, apperr.Newf(apperr.CodeStorage, "certificate not found: %s", certificateID)
		}
		return domain.CalibrationCertificate{}, apperr.Storage("read certificate", err)
	}
	var cert domain.CalibrationCertificate
	if err := json.Unmarshal(data, &cert); err != nil {
		return domain.CalibrationCertificate{}, apperr.Wrap(apperr.CodeStorage, "parse certificate", err)
	}
	return cert, nil
}

// ListCertificates returns every entry of the certificate index, in
// append order.
func (s *Store) ListCertificates() ([]domain.CertificateIndexEntry, error) {
	path := filepath.Join(s.base, certificatesDir, indexFile)
	return ReadJSONL[domain.CertificateIndexEntry](path)
}
