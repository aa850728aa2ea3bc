package recovery

import (
	"crypto/ed25519"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReportFrom_DerivesStatusFromFileCounts(t *testing.T) {
	cases := []struct {
		name string
		v    *SnapshotValidation
		want ValidationStatus
	}{
		{"all ok", &SnapshotValidation{FilesOK: 3, FilesBad: 0}, ValidationOK},
		{"all bad", &SnapshotValidation{FilesOK: 0, FilesBad: 2}, ValidationFailed},
		{"mixed", &SnapshotValidation{FilesOK: 2, FilesBad: 1}, ValidationDegraded},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ReportFrom(c.v, time.Unix(0, 0))
			if got.Status != c.want {
				t.Errorf("expected status %s, got %s", c.want, got.Status)
			}
			if got.FileCount != c.v.FilesOK+c.v.FilesBad {
				t.Errorf("expected file_count %d, got %d", c.v.FilesOK+c.v.FilesBad, got.FileCount)
			}
			if got.ErrorCount != c.v.FilesBad {
				t.Errorf("expected error_count %d, got %d", c.v.FilesBad, got.ErrorCount)
			}
		})
	}
}

func TestValidationReport_SignAndVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	report := ReportFrom(&SnapshotValidation{ManifestID: "m1", FilesOK: 5}, time.Unix(1700000000, 0))
	if err := report.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if string(report.PublicKey) != string(pub) {
		t.Errorf("expected embedded public key to match signer's public key")
	}
	if !report.VerifySignature() {
		t.Error("expected a freshly signed report to verify")
	}

	report.FileCount = 999
	if report.VerifySignature() {
		t.Error("expected verification to fail after the report was tampered with")
	}
}

func TestValidationReport_VerifySignature_RejectsUnsignedReport(t *testing.T) {
	report := ReportFrom(&SnapshotValidation{ManifestID: "m1"}, time.Unix(0, 0))
	if report.VerifySignature() {
		t.Error("expected an unsigned report to fail verification")
	}
}

func TestLoadSigningKey_ReadsBase64EncodedPrivateKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "signing.key")
	encoded := base64.StdEncoding.EncodeToString(priv)
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := LoadSigningKey(path)
	if err != nil {
		t.Fatalf("LoadSigningKey: %v", err)
	}
	if string(got) != string(priv) {
		t.Error("expected loaded key to match the written key")
	}
}

func TestLoadSigningKey_RejectsWrongLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.key")
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString([]byte("too short"))), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := LoadSigningKey(path); err == nil {
		t.Error("expected an error for a key of the wrong length")
	}
}
