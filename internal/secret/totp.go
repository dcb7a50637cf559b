// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Latchkey Contributors

package secret

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // RFC 6238 default; authenticator apps expect SHA-1
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
)

// TOTP parameters (RFC 6238 defaults understood by authenticator apps).
const (
	TOTPDigits      = 6
	TOTPPeriod      = 30 * time.Second
	TOTPSkew        = 1
	totpSecretBytes = 20
)

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateTOTPSecret returns a new base32 shared secret.
func GenerateTOTPSecret() (string, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", oops.Code("SECRET_TOTP_FAILED").Wrap(err)
	}
	return totpEncoding.EncodeToString(raw), nil
}

// TOTPProvisioningURI builds the otpauth:// URI consumed by authenticator apps.
func TOTPProvisioningURI(issuer, accountName, secretBase32 string) string {
	label := url.PathEscape(issuer + ":" + accountName)
	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("digits", fmt.Sprint(TOTPDigits))
	v.Set("period", fmt.Sprint(int(TOTPPeriod.Seconds())))
	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyTOTP reports whether code is valid for secretBase32 at now, allowing
// one step of clock skew either side.
func VerifyTOTP(secretBase32, code string, now time.Time) bool {
	_, ok := MatchTOTP(secretBase32, code, now, -1)
	return ok
}

// MatchTOTP checks code like VerifyTOTP and returns the time step it matched.
// Steps at or below after are refused so an accepted code cannot be replayed
// inside the skew window.
func MatchTOTP(secretBase32, code string, now time.Time, after int64) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != TOTPDigits {
		return 0, false
	}
	key, err := totpEncoding.DecodeString(strings.ToUpper(strings.TrimSpace(secretBase32)))
	if err != nil || len(key) == 0 {
		return 0, false
	}

	counter := now.Unix() / int64(TOTPPeriod.Seconds())
	for step := -TOTPSkew; step <= TOTPSkew; step++ {
		c := counter + int64(step)
		if c < 0 || c <= after {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotp(key, uint64(c))), []byte(code)) == 1 {
			return c, true
		}
	}
	return 0, false
}

// TOTPCode returns the code for secretBase32 at t. Used by tests and the CLI.
func TOTPCode(secretBase32 string, t time.Time) (string, error) {
	key, err := totpEncoding.DecodeString(strings.ToUpper(strings.TrimSpace(secretBase32)))
	if err != nil {
		return "", oops.Code("SECRET_TOTP_INVALID").Wrap(err)
	}
	return hotp(key, uint64(t.Unix()/int64(TOTPPeriod.Seconds()))), nil
}

func hotp(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (uint32(sum[offset])&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	return fmt.Sprintf("%0*d", TOTPDigits, bin%1_000_000)
}
