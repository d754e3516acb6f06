package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// PseudonymizeID derives the storage key for a client identifier: a salted
// one-way hash. The raw identifier is never written anywhere; without the
// salt the stored key cannot be reversed or recomputed, and the hourly sweep
// removes even the pseudonym within the hour.
func PseudonymizeID(clientID, salt string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(clientID))
	return hex.EncodeToString(mac.Sum(nil))
}
