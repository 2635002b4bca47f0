// Package launch decodes the session identity carried by a launch URL.
//
// Both query parameters are base64 text. Decoding either one never falls back
// to an empty or partially decoded identity: the caller gets a
// MalformedLaunchParameterError and must not proceed.
package launch

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/dkeye/VideoLaunch/internal/domain"
)

const (
	ParamSessionName = "sessionName"
	ParamPasscode    = "passcode"
)

var (
	ErrMalformedLaunchParameter = errors.New("malformed launch parameter")

	errMissing    = errors.New("missing")
	errNotUTF8    = errors.New("decoded value is not utf-8")
	errEmptyValue = errors.New("decoded value is empty")
)

type MalformedLaunchParameterError struct {
	Param string
	Err   error
}

func (e *MalformedLaunchParameterError) Error() string {
	return fmt.Sprintf("malformed launch parameter %q: %v", e.Param, e.Err)
}

func (e *MalformedLaunchParameterError) Unwrap() error { return e.Err }

func (e *MalformedLaunchParameterError) Is(target error) bool {
	return target == ErrMalformedLaunchParameter
}

func Decode(u *url.URL) (domain.LaunchIdentity, error) {
	if u == nil {
		return domain.LaunchIdentity{}, &MalformedLaunchParameterError{Param: ParamSessionName, Err: errMissing}
	}
	return DecodeQuery(u.Query())
}

func DecodeQuery(q url.Values) (domain.LaunchIdentity, error) {
	name, err := decodeParam(q, ParamSessionName)
	if err != nil {
		return domain.LaunchIdentity{}, err
	}
	pass, err := decodeParam(q, ParamPasscode)
	if err != nil {
		return domain.LaunchIdentity{}, err
	}
	return domain.LaunchIdentity{SessionName: domain.SessionName(name), Passcode: pass}, nil
}

func decodeParam(q url.Values, param string) (string, error) {
	raw := strings.TrimSpace(q.Get(param))
	// An unescaped '+' in a hand-written link arrives as a space.
	raw = strings.ReplaceAll(raw, " ", "+")
	if raw == "" {
		return "", &MalformedLaunchParameterError{Param: param, Err: errMissing}
	}
	b, err := decodeBase64(raw)
	if err != nil {
		return "", &MalformedLaunchParameterError{Param: param, Err: err}
	}
	if len(b) == 0 {
		return "", &MalformedLaunchParameterError{Param: param, Err: errEmptyValue}
	}
	if !utf8.Valid(b) {
		return "", &MalformedLaunchParameterError{Param: param, Err: errNotUTF8}
	}
	return string(b), nil
}

// decodeBase64 accepts the standard alphabet, and the URL-safe alphabet that
// some mail clients rewrite links into, padded or not.
func decodeBase64(s string) ([]byte, error) {
	enc := base64.StdEncoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.URLEncoding
	}
	if len(s)%4 != 0 {
		enc = enc.WithPadding(base64.NoPadding)
	}
	return enc.Strict().DecodeString(s)
}

// Encode produces the query parameters Decode reads back.
func Encode(id domain.LaunchIdentity) url.Values {
	q := url.Values{}
	q.Set(ParamSessionName, base64.StdEncoding.EncodeToString([]byte(id.SessionName)))
	q.Set(ParamPasscode, base64.StdEncoding.EncodeToString([]byte(id.Passcode)))
	return q
}

// JoinLink builds the page URL a participant opens to launch the session.
func JoinLink(base string, id domain.LaunchIdentity) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u = u.JoinPath("session")
	u.RawQuery = Encode(id).Encode()
	return u.String(), nil
}
