package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/galileoChr/ai-model-builder-app/pkg/utils"
)

// Artifact is the persisted output of a successful job.
type Artifact struct {
	JobID            string         `json:"job_id"`
	ArchitectureSpec map[string]any `json:"architecture_spec"`
	Build            map[string]any `json:"build,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	Digest           string         `json:"digest"`
	Signature        string         `json:"signature,omitempty"`
	PublicKey        string         `json:"public_key,omitempty"`
}

// ComputeDigest hashes the job id, spec and build metadata.
// Map keys are emitted sorted by encoding/json, so the digest is stable.
func (a Artifact) ComputeDigest() (string, error) {
	view := struct {
		JobID            string         `json:"job_id"`
		ArchitectureSpec map[string]any `json:"architecture_spec"`
		Build            map[string]any `json:"build,omitempty"`
	}{
		JobID:            a.JobID,
		ArchitectureSpec: a.ArchitectureSpec,
		Build:            a.Build,
	}
	data, err := json.Marshal(view)
	if err != nil {
		return "", fmt.Errorf("marshal artifact %s: %w", a.JobID, err)
	}
	return utils.HashBytes(data), nil
}

// VerifyArtifact recomputes the digest and, when the artifact is signed, checks the signature.
func VerifyArtifact(a Artifact, signer Signer) error {
	digest, err := a.ComputeDigest()
	if err != nil {
		return err
	}
	if digest != a.Digest {
		return fmt.Errorf("artifact %s digest mismatch", a.JobID)
	}
	if a.Signature == "" {
		return nil
	}
	if signer == nil {
		return fmt.Errorf("artifact %s is signed but no verifier is configured", a.JobID)
	}
	if !signer.Verify(a.Digest, a.Signature, a.PublicKey) {
		return fmt.Errorf("artifact %s signature invalid", a.JobID)
	}
	return nil
}
