package schema

import "fmt"

// Protocol versions supported by this server, newest first.
const (
	Version20251125 = "2025-11-25"
	Version20250618 = "2025-06-18"
	Version20250326 = "2025-03-26"
	Version20241105 = "2024-11-05"
)

// SupportedVersions lists the protocol versions the server negotiates, newest first.
var SupportedVersions = []string{
	Version20251125,
	Version20250618,
	Version20250326,
	Version20241105,
}

// LatestVersion returns the newest protocol version of the supplied set.
func LatestVersion(versions []string) string {
	if len(versions) == 0 {
		return ""
	}
	return versions[0]
}

// Negotiate selects the protocol version shared by client and server.
// The client names a single version; when the server supports it, that version
// is selected, otherwise negotiation fails.
func Negotiate(clientVersion string, serverVersions []string) (string, error) {
	if len(serverVersions) == 0 {
		serverVersions = SupportedVersions
	}
	for _, candidate := range serverVersions {
		if candidate == clientVersion {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("unsupported protocol version: %q, supported: %v", clientVersion, serverVersions)
}
