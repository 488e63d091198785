package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid local token")

// localToken carries the tenant between two random values; it is obfuscation only,
// anyone decoding the base64 reads the tenant
type localToken struct {
	Ak  string `json:"ak"`
	Tid string `json:"tid"`
	Zk  string `json:"zk"`
}

func EncodeLocalToken(tenant string) string {
	body, _ := json.Marshal(localToken{
		Ak:  uuid.NewString(),
		Tid: tenant,
		Zk:  uuid.NewString(),
	})
	return base64.StdEncoding.EncodeToString(body)
}

// DecodeLocalToken returns the tenant; the random fields are not checked
func DecodeLocalToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	body, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		if body, err = base64.RawURLEncoding.DecodeString(token); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}
	var t localToken
	if err = json.Unmarshal(body, &t); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if t.Tid == "" {
		return "", fmt.Errorf("%w: no tenant", ErrInvalidToken)
	}
	return t.Tid, nil
}

// TokenFromHeader extracts the credentials token from an Authorization header value
func TokenFromHeader(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Token") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
