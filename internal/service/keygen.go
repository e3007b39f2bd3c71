package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/store"
)

const (
	keyAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	keySegments      = 4
	keySegmentLength = 4
)

// GenerateLicenseKey produces a new license key in the form XXXX-XXXX-XXXX-XXXX
// over [A-Z0-9], drawn from crypto/rand. Keys are bearer credentials, so a
// predictable generator would be a direct security failure. Uniqueness is not
// checked here; the store's unique constraint is the backstop and the creation
// flow retries on collision.
func GenerateLicenseKey() (string, error) {
	// Rejection sampling below the largest multiple of 36 under 256 keeps the
	// character distribution uniform.
	const limit = 252

	need := keySegments * keySegmentLength
	chars := make([]byte, 0, need)
	buf := make([]byte, 32)

	for len(chars) < need {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if len(chars) == need {
				break
			}
			if b >= limit {
				continue
			}
			chars = append(chars, keyAlphabet[int(b)%len(keyAlphabet)])
		}
	}

	segments := make([]string, keySegments)
	for i := range segments {
		segments[i] = string(chars[i*keySegmentLength : (i+1)*keySegmentLength])
	}
	return strings.Join(segments, "-"), nil
}

// LicenseWriter is the subset of the store needed to persist a new license.
type LicenseWriter interface {
	CreateLicense(ctx context.Context, lic *model.License) error
}

// IssueLicense fills lic.LicenseKey with a freshly generated key and inserts
// the license, regenerating the key once if it collides with an existing one.
func IssueLicense(ctx context.Context, st LicenseWriter, lic *model.License) error {
	for attempt := 0; attempt < 2; attempt++ {
		key, err := GenerateLicenseKey()
		if err != nil {
			return err
		}
		lic.LicenseKey = key

		err = st.CreateLicense(ctx, lic)
		if err == nil {
			return nil
		}
		if !store.IsUniqueViolation(err) {
			return err
		}
	}
	return fmt.Errorf("license key collision persisted after retry")
}
