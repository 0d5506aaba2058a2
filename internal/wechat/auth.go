package wechat

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadAuthInfo reads the persisted {token, cookie} session from path.
// The file is maintained out-of-band by the Browser Fetcher's login
// flow; a missing file yields a zero AuthInfo so a fresh deployment
// can start and report ErrCredentialsExpired on first use rather than
// fail to boot.
func LoadAuthInfo(path string) (AuthInfo, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return AuthInfo{}, nil
		}

		return AuthInfo{}, fmt.Errorf("read wechat auth info %s: %w", path, err)
	}

	var auth AuthInfo
	if err := json.Unmarshal(raw, &auth); err != nil {
		return AuthInfo{}, fmt.Errorf("parse wechat auth info %s: %w", path, err)
	}

	return auth, nil
}
