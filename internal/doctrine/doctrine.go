// Package doctrine loads Sentinel's immutable runtime invariants. The
// doctrine table is read once at process startup, hashed, and never
// mutated for the lifetime of the process — changing doctrine requires
// restarting with a new doctrine.json and accepting a new hash in the
// ledger's DoctrineLoaded entry.
package doctrine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
)

// Doctrine is the set of invariants the kernel enforces regardless of
// operator configuration. These are compiled-in defaults unless a
// doctrine.json file overrides them at startup.
type Doctrine struct {
	HistoryIsTruth          bool `json:"history_is_truth"`
	AppendOnly              bool `json:"append_only"`
	NoArtifactNoExistence   bool `json:"no_artifact_no_existence"`
	NoVerificationRejected  bool `json:"no_verification_rejected"`
	IrreversibleRequiresApproval bool `json:"irreversible_requires_approval"`
}

// Default returns the built-in doctrine, used when no doctrine.json is
// present on disk.
func Default() Doctrine {
	return Doctrine{
		HistoryIsTruth:               true,
		AppendOnly:                   true,
		NoArtifactNoExistence:        true,
		NoVerificationRejected:       true,
		IrreversibleRequiresApproval: true,
	}
}

// Loaded is the result of loading doctrine at startup: the table itself,
// its content hash, and whether it came from disk or from Default().
type Loaded struct {
	Doctrine    Doctrine
	Hash        string
	UsedDefault bool
}

// Load reads doctrine from path. If the file does not exist, it returns
// the built-in default with UsedDefault=true — the caller is expected
// to record a DoctrineLoaded(defaults=true) ledger entry in that case.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		d := Default()
		hash, hashErr := hashDoctrine(d)
		if hashErr != nil {
			return Loaded{}, hashErr
		}
		return Loaded{Doctrine: d, Hash: hash, UsedDefault: true}, nil
	}
	if err != nil {
		return Loaded{}, err
	}

	var d Doctrine
	if err := json.Unmarshal(data, &d); err != nil {
		return Loaded{}, err
	}
	hash, err := hashDoctrine(d)
	if err != nil {
		return Loaded{}, err
	}
	return Loaded{Doctrine: d, Hash: hash}, nil
}

// hashDoctrine computes a stable content hash over the canonical JSON
// encoding of d, used to detect drift between process runs.
func hashDoctrine(d Doctrine) (string, error) {
	canonical, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
