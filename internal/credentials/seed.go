package credentials

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ParseSeed reads credentials from "site:account:secret" entries separated by commas.
// Entry order sets priority. The secret may itself contain colons.
func ParseSeed(raw string) ([]Credential, error) {
	var out []Credential
	for i, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("credential seed entry %d: want site:account:secret", i+1)
		}
		out = append(out, Credential{
			ID:       uuid.NewString(),
			Site:     parts[0],
			Account:  parts[1],
			Secret:   parts[2],
			Priority: i,
			Enabled:  true,
		})
	}
	return out, nil
}
