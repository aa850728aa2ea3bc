package recovery

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/vaultkeep/backupd/internal/errs"
)

// ValidationReport is an optionally signable summary of a snapshot
// validation run, suitable for handing to an auditor or archiving
// alongside the manifest it describes.
type ValidationReport struct {
	ManifestID string
	Status     ValidationStatus
	FileCount  int
	ErrorCount int
	Timestamp  time.Time
	Signature  []byte
	PublicKey  []byte
}

// ValidationStatus summarizes a snapshot validation run.
type ValidationStatus int

const (
	ValidationOK ValidationStatus = iota + 1
	ValidationDegraded
	ValidationFailed
)

func (s ValidationStatus) String() string {
	switch s {
	case ValidationOK:
		return "ok"
	case ValidationDegraded:
		return "degraded"
	case ValidationFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReportFrom derives an unsigned ValidationReport from a ValidateSnapshot
// result: ok if every file passed, failed if none did, degraded otherwise.
func ReportFrom(v *SnapshotValidation, at time.Time) *ValidationReport {
	status := ValidationDegraded
	switch {
	case v.FilesBad == 0:
		status = ValidationOK
	case v.FilesOK == 0:
		status = ValidationFailed
	}
	return &ValidationReport{
		ManifestID: v.ManifestID,
		Status:     status,
		FileCount:  v.FilesOK + v.FilesBad,
		ErrorCount: v.FilesBad,
		Timestamp:  at,
	}
}

// canonicalBytes produces the stable JSON encoding a report is signed
// over — the same fields every time, independent of struct field order.
func (r *ValidationReport) canonicalBytes() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"manifest_id": r.ManifestID,
		"status":      r.Status.String(),
		"file_count":  r.FileCount,
		"error_count": r.ErrorCount,
		"timestamp":   r.Timestamp.Unix(),
	})
}

// Sign attaches an Ed25519 signature and the corresponding public key to
// the report, over its canonical field encoding.
func (r *ValidationReport) Sign(priv ed25519.PrivateKey) error {
	canonical, err := r.canonicalBytes()
	if err != nil {
		return errs.Wrap(errs.KindIO, "recovery.ValidationReport.Sign", "marshal canonical report", err)
	}
	r.Signature = ed25519.Sign(priv, canonical)
	r.PublicKey = priv.Public().(ed25519.PublicKey)
	return nil
}

// VerifySignature reports whether r's signature is valid over its current
// field values and embedded public key.
func (r *ValidationReport) VerifySignature() bool {
	if len(r.PublicKey) != ed25519.PublicKeySize || len(r.Signature) != ed25519.SignatureSize {
		return false
	}
	canonical, err := r.canonicalBytes()
	if err != nil {
		return false
	}
	return ed25519.Verify(r.PublicKey, canonical, r.Signature)
}

// LoadSigningKey reads a base64-encoded Ed25519 private key from path, in
// the same encoding the teacher's cmd/keygen writes. An empty path is not
// special-cased: reading it fails with an Io error, so callers skip signing
// themselves when no key path is configured.
func LoadSigningKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "recovery.LoadSigningKey", "read key file", err).WithKey(path)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "recovery.LoadSigningKey", "decode base64 key", err).WithKey(path)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, errs.New(errs.KindConfig, "recovery.LoadSigningKey", "key has wrong length for ed25519.PrivateKey").WithKey(path)
	}
	return ed25519.PrivateKey(decoded), nil
}
