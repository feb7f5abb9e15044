package index

import (
	"encoding/hex"
	"strings"

	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
)

// parseChecksumFile extracts the digest from a sha256sum-style file. Only
// the first whitespace-separated field of the first non-empty line is
// used.
func parseChecksumFile(data []byte) (string, error) {
	for line := range strings.SplitSeq(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		return normalizeChecksum(fields[0])
	}
	return "", domain.Classify(domain.ErrResolutionFailed, zerr.New("empty checksum file"))
}

// normalizeChecksum lowercases sum and checks it is a SHA-256 digest.
func normalizeChecksum(sum string) (string, error) {
	sum = strings.ToLower(strings.TrimSpace(sum))
	if b, err := hex.DecodeString(sum); err != nil || len(b) != 32 {
		return "", domain.Classify(domain.ErrResolutionFailed, zerr.With(zerr.New("malformed sha256 checksum"), "checksum", sum))
	}
	return sum, nil
}
