package simplestreams

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// SigningPolicy checks a fetched catalog document and returns its payload.
// For signed documents the signature is verified and stripped; for plain
// documents the content passes through unchanged.
type SigningPolicy func(content []byte, path string) ([]byte, error)

const (
	pgpSignedHeader    = "-----BEGIN PGP SIGNED MESSAGE-----"
	pgpSignatureHeader = "-----BEGIN PGP SIGNATURE-----"
)

// ExternalProcessError wraps a failed helper-process invocation, preserving
// its combined output for the log.
type ExternalProcessError struct {
	Cmd    string
	Output string
	Err    error
}

func (e *ExternalProcessError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Cmd, e.Err, out)
}

func (e *ExternalProcessError) Unwrap() error {
	return e.Err
}

// GetSigningPolicy returns the policy for a catalog path. Signed documents
// (.sjson) are verified against the keyring when one is supplied; unsigned
// documents pass through.
func GetSigningPolicy(path, keyringFile string) SigningPolicy {
	if !strings.HasSuffix(path, ".sjson") {
		return func(content []byte, _ string) ([]byte, error) {
			return content, nil
		}
	}
	return func(content []byte, docPath string) ([]byte, error) {
		if keyringFile != "" {
			if err := verifySignature(content, keyringFile); err != nil {
				return nil, fmt.Errorf("signature check failed for %s: %w", docPath, err)
			}
		}
		payload, err := stripSignature(content)
		if err != nil {
			return nil, fmt.Errorf("malformed signed document %s: %w", docPath, err)
		}
		return payload, nil
	}
}

// verifySignature runs gpgv over the clearsigned document.
func verifySignature(content []byte, keyringFile string) error {
	tmp, err := os.CreateTemp("", "sstream-doc-*.sjson")
	if err != nil {
		return fmt.Errorf("staging signed document: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("staging signed document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("staging signed document: %w", err)
	}

	cmd := exec.Command("gpgv", "--keyring", keyringFile, tmp.Name())
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &ExternalProcessError{Cmd: "gpgv", Output: string(out), Err: err}
	}
	return nil
}

// stripSignature extracts the JSON payload from a clearsigned document.
func stripSignature(content []byte) ([]byte, error) {
	text := string(content)
	if !strings.HasPrefix(text, pgpSignedHeader) {
		// Some mirrors serve .sjson paths with plain content.
		return content, nil
	}

	sigStart := strings.Index(text, pgpSignatureHeader)
	if sigStart < 0 {
		return nil, fmt.Errorf("missing signature block")
	}
	body := text[:sigStart]

	// The payload starts after the armor headers' terminating blank line.
	sep := strings.Index(body, "\n\n")
	if sep < 0 {
		sep = strings.Index(body, "\r\n\r\n")
		if sep < 0 {
			return nil, fmt.Errorf("missing armor header separator")
		}
		sep += 2
	}
	payload := body[sep+2:]
	return bytes.TrimSpace([]byte(payload)), nil
}
